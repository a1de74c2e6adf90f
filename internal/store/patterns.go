package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertDetectedPattern persists a terminal-output signal.
func (s *ProjectStore) InsertDetectedPattern(p DetectedPattern) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO detected_patterns (id, type, session_id, worktree_id, project_id, timestamp, content, handled, handled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		p.ID, p.Type, p.SessionID, p.WorktreeID, p.ProjectID, toMillis(p.Timestamp), p.Content, boolInt(p.Handled))
	if err != nil {
		return fmt.Errorf("insert detected pattern: %w", err)
	}
	return nil
}

// ListUnhandledPatterns returns unhandled detections newer than since,
// oldest first.
func (s *ProjectStore) ListUnhandledPatterns(since time.Time) ([]DetectedPattern, error) {
	rows, err := s.db.Query(`
		SELECT id, type, session_id, worktree_id, project_id, timestamp, content, handled, handled_at
		FROM detected_patterns
		WHERE handled = 0 AND timestamp >= ? ORDER BY timestamp ASC`, toMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectedPattern
	for rows.Next() {
		var p DetectedPattern
		var ts int64
		var handled int
		var handledAt sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Type, &p.SessionID, &p.WorktreeID, &p.ProjectID, &ts, &p.Content, &handled, &handledAt); err != nil {
			return nil, err
		}
		p.Timestamp = fromMillis(ts)
		p.Handled = handled != 0
		p.HandledAt = fromMillisPtr(handledAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPatternHandled flips handled once the orchestrator has acted on it.
func (s *ProjectStore) MarkPatternHandled(id string) error {
	res, err := s.db.Exec(`UPDATE detected_patterns SET handled = 1, handled_at = ? WHERE id = ?`,
		toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PrunePatterns deletes detections older than the cutoff (24h retention).
func (s *ProjectStore) PrunePatterns(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM detected_patterns WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
