package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Registry is the process-wide project registry database.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens the registry database, creating and migrating it on
// first use.
func OpenRegistry(path string) (*Registry, error) {
	db, err := openDB(path, "registry")
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

// RegisterProject inserts a project, or refreshes opened_at when the path is
// already registered. Path uniqueness is the registry's core invariant.
func (r *Registry) RegisterProject(p Project) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := r.db.Exec(`
		INSERT INTO projects (id, path, name, repo_url, created_at, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET opened_at = excluded.opened_at, name = excluded.name`,
		p.ID, p.Path, p.Name, p.RepoURL, toMillis(p.CreatedAt), toMillis(now))
	if err != nil {
		return fmt.Errorf("register project: %w", err)
	}
	return nil
}

// GetProject looks a project up by id.
func (r *Registry) GetProject(id string) (*Project, error) {
	return r.scanProject(r.db.QueryRow(
		`SELECT id, path, name, repo_url, created_at, opened_at FROM projects WHERE id = ?`, id))
}

// GetProjectByPath looks a project up by its absolute path.
func (r *Registry) GetProjectByPath(path string) (*Project, error) {
	return r.scanProject(r.db.QueryRow(
		`SELECT id, path, name, repo_url, created_at, opened_at FROM projects WHERE path = ?`, path))
}

// ListProjects returns all registered projects, most recently opened first.
func (r *Registry) ListProjects() ([]Project, error) {
	rows, err := r.db.Query(
		`SELECT id, path, name, repo_url, created_at, opened_at FROM projects ORDER BY opened_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var created, opened int64
		if err := rows.Scan(&p.ID, &p.Path, &p.Name, &p.RepoURL, &created, &opened); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(created)
		p.OpenedAt = fromMillis(opened)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RemoveProject deletes a project registration. Project-local state stays on
// disk untouched.
func (r *Registry) RemoveProject(id string) error {
	res, err := r.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Registry) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var created, opened int64
	err := row.Scan(&p.ID, &p.Path, &p.Name, &p.RepoURL, &created, &opened)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.OpenedAt = fromMillis(opened)
	return &p, nil
}
