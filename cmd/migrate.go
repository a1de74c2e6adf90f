package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/store"
)

var migrateDB string

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.PersistentFlags().StringVar(&migrateDB, "db", store.SchemaProject, "database to migrate: registry or project")

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

// resolveMigrateTarget maps --db to a database path and schema. The project
// database is located from the enclosing git repository.
func resolveMigrateTarget(ctx context.Context) (path, schema string, err error) {
	switch migrateDB {
	case store.SchemaRegistry:
		return config.RegistryDBPath(), store.SchemaRegistry, nil
	case store.SchemaProject:
		cwd, err := os.Getwd()
		if err != nil {
			return "", "", err
		}
		root, err := gitx.NewClient().RepoRoot(ctx, cwd)
		if err != nil {
			return "", "", fmt.Errorf("project database requires a git repository: %w", err)
		}
		return config.ProjectDBPath(root), store.SchemaProject, nil
	default:
		return "", "", fmt.Errorf("unknown database %q (want registry or project)", migrateDB)
	}
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Stdout)
			path, schema, err := resolveMigrateTarget(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.MigrateUp(path, schema); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := store.MigrateVersion(path, schema)
			slog.Info("migration complete", "db", schema, "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back one migration step",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(os.Stdout)
			path, schema, err := resolveMigrateTarget(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.MigrateDown(path, schema); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := store.MigrateVersion(path, schema)
			slog.Info("rollback complete", "db", schema, "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, schema, err := resolveMigrateTarget(cmd.Context())
			if err != nil {
				return err
			}
			v, dirty, err := store.MigrateVersion(path, schema)
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("%s: version %d, dirty: %v\n", schema, v, dirty)
			return nil
		},
	}
}
