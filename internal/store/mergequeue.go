package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyMerged is returned when marking an entry merged twice.
var ErrAlreadyMerged = errors.New("already merged")

// EnqueueMerge upserts a merge-queue entry by worktree id. Re-queueing an
// existing worktree resets completedAt, summary, and hasCommits, and clears
// the merged flag.
func (s *ProjectStore) EnqueueMerge(e MergeQueueEntry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO merge_queue (worktree_id, branch, completed_at, summary, has_commits, merged)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(worktree_id) DO UPDATE SET
			branch = excluded.branch,
			completed_at = excluded.completed_at,
			summary = excluded.summary,
			has_commits = excluded.has_commits,
			merged = 0`,
		e.WorktreeID, e.Branch, toMillis(e.CompletedAt), e.Summary, boolInt(e.HasCommits))
	if err != nil {
		return fmt.Errorf("enqueue merge: %w", err)
	}
	return nil
}

// GetMergeQueue returns unmerged entries ordered oldest-completed first.
func (s *ProjectStore) GetMergeQueue() ([]MergeQueueEntry, error) {
	rows, err := s.db.Query(`
		SELECT worktree_id, branch, completed_at, summary, has_commits, merged
		FROM merge_queue WHERE merged = 0 ORDER BY completed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MergeQueueEntry
	for rows.Next() {
		e, err := scanMergeEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// PopMergeQueue returns and deletes the oldest unmerged entry in a single
// transaction, so concurrent callers never receive the same entry. Returns
// (nil, nil) on an empty queue.
func (s *ProjectStore) PopMergeQueue() (*MergeQueueEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT worktree_id, branch, completed_at, summary, has_commits, merged
		FROM merge_queue WHERE merged = 0 ORDER BY completed_at ASC LIMIT 1`)
	e, err := scanMergeEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM merge_queue WHERE worktree_id = ?`, e.WorktreeID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// MarkMergeEntryMerged flags an entry merged. A second call returns
// ErrAlreadyMerged; an unknown worktree returns ErrNotFound.
func (s *ProjectStore) MarkMergeEntryMerged(worktreeID string) error {
	row := s.db.QueryRow(`SELECT merged FROM merge_queue WHERE worktree_id = ?`, worktreeID)
	var merged int
	err := row.Scan(&merged)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if merged != 0 {
		return ErrAlreadyMerged
	}
	_, err = s.db.Exec(`UPDATE merge_queue SET merged = 1 WHERE worktree_id = ?`, worktreeID)
	return err
}

// RemoveMergeEntry deletes an entry outright (e.g. worktree archived).
func (s *ProjectStore) RemoveMergeEntry(worktreeID string) error {
	_, err := s.db.Exec(`DELETE FROM merge_queue WHERE worktree_id = ?`, worktreeID)
	return err
}

func scanMergeEntry(scan func(...any) error) (*MergeQueueEntry, error) {
	var e MergeQueueEntry
	var completed int64
	var hasCommits, merged int
	if err := scan(&e.WorktreeID, &e.Branch, &completed, &e.Summary, &hasCommits, &merged); err != nil {
		return nil, err
	}
	e.CompletedAt = fromMillis(completed)
	e.HasCommits = hasCommits != 0
	e.Merged = merged != 0
	return &e, nil
}
