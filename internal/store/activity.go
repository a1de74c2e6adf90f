package store

import (
	"fmt"
	"time"
)

// AppendActivity writes one activity log entry and returns its id.
func (s *ProjectStore) AppendActivity(e ActivityEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO activity_logs (project_id, timestamp, type, category, summary, details, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.projectID, toMillis(e.Timestamp), e.Type, e.Category, e.Summary, e.Details, e.CorrelationID)
	if err != nil {
		return 0, fmt.Errorf("append activity: %w", err)
	}
	return res.LastInsertId()
}

// ActivityFilter narrows ListActivity. Zero values match everything.
type ActivityFilter struct {
	Type          string
	Category      string
	CorrelationID string
	Limit         int
}

// ListActivity returns entries newest-first.
func (s *ProjectStore) ListActivity(f ActivityFilter) ([]ActivityEntry, error) {
	query := `SELECT id, project_id, timestamp, type, category, summary, details, correlation_id FROM activity_logs WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, f.CorrelationID)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.ProjectID, &ts, &e.Type, &e.Category, &e.Summary, &e.Details, &e.CorrelationID); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
