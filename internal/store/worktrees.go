package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertWorktree persists a worktree record keyed by its deterministic id.
// Derived fields (merged, status) are not stored; callers recompute them.
func (s *ProjectStore) UpsertWorktree(w Worktree) error {
	if w.Mode == "" {
		w.Mode = WorktreeModeNormal
	}
	_, err := s.db.Exec(`
		INSERT INTO worktrees (id, project_id, path, branch, is_main, archived, mode, last_commit_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			branch = excluded.branch,
			is_main = excluded.is_main,
			archived = excluded.archived,
			mode = excluded.mode,
			last_commit_date = excluded.last_commit_date`,
		w.ID, w.ProjectID, w.Path, w.Branch, boolInt(w.IsMain), boolInt(w.Archived),
		w.Mode, toMillis(w.LastCommitDate), toMillis(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert worktree: %w", err)
	}
	return nil
}

// GetWorktree looks a worktree up by id.
func (s *ProjectStore) GetWorktree(id string) (*Worktree, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, path, branch, is_main, archived, mode, last_commit_date, created_at
		FROM worktrees WHERE id = ?`, id)
	w, err := scanWorktree(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWorktrees returns all persisted worktrees for the project.
func (s *ProjectStore) ListWorktrees() ([]Worktree, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, path, branch, is_main, archived, mode, last_commit_date, created_at
		FROM worktrees WHERE project_id = ? ORDER BY created_at ASC`, s.projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Worktree
	for rows.Next() {
		w, err := scanWorktree(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// SetWorktreeArchived flips the archived flag.
func (s *ProjectStore) SetWorktreeArchived(id string, archived bool) error {
	res, err := s.db.Exec(`UPDATE worktrees SET archived = ? WHERE id = ?`, boolInt(archived), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorktree removes the record.
func (s *ProjectStore) DeleteWorktree(id string) error {
	_, err := s.db.Exec(`DELETE FROM worktrees WHERE id = ?`, id)
	return err
}

func scanWorktree(scan func(...any) error) (*Worktree, error) {
	var w Worktree
	var isMain, archived int
	var lastCommit, created int64
	err := scan(&w.ID, &w.ProjectID, &w.Path, &w.Branch, &isMain, &archived, &w.Mode, &lastCommit, &created)
	if err != nil {
		return nil, err
	}
	w.IsMain = isMain != 0
	w.Archived = archived != 0
	w.LastCommitDate = fromMillis(lastCommit)
	w.CreatedAt = fromMillis(created)
	return &w, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
