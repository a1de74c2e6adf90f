package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Schema names for Migrate.
const (
	SchemaRegistry = "registry"
	SchemaProject  = "project"
)

func newMigrator(dbPath, schema string) (*migrate.Migrate, *sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations/"+schema)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, db, nil
}

// MigrateUp applies all pending migrations to the database.
func MigrateUp(dbPath, schema string) error {
	m, db, err := newMigrator(dbPath, schema)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateDown rolls back one migration step.
func MigrateDown(dbPath, schema string) error {
	m, db, err := newMigrator(dbPath, schema)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateVersion reports the current schema version and dirty flag.
func MigrateVersion(dbPath, schema string) (uint, bool, error) {
	m, db, err := newMigrator(dbPath, schema)
	if err != nil {
		return 0, false, err
	}
	defer db.Close()
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
