package store

import (
	"database/sql"
)

// ProjectStore is the embedded per-project database. One instance is opened
// per project path and shared by every component touching that project.
type ProjectStore struct {
	db        *sql.DB
	projectID string
}

// OpenProject opens (creating and migrating if needed) the database under
// the project's state directory.
func OpenProject(dbPath, projectID string) (*ProjectStore, error) {
	db, err := openDB(dbPath, "project")
	if err != nil {
		return nil, err
	}
	return &ProjectStore{db: db, projectID: projectID}, nil
}

// ProjectID returns the owning project's id.
func (s *ProjectStore) ProjectID() string { return s.projectID }

// Close closes the underlying database.
func (s *ProjectStore) Close() error { return s.db.Close() }
