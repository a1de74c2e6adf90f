package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertPrintSession records a newly spawned one-shot agent run.
func (s *ProjectStore) InsertPrintSession(p PrintSession) error {
	var exit sql.NullInt64
	if p.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*p.ExitCode), Valid: true}
	}
	var completed sql.NullInt64
	if p.CompletedAt != nil {
		completed = sql.NullInt64{Int64: toMillis(*p.CompletedAt), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO print_sessions (id, worktree_id, project_id, task, status, exit_code, started_at, completed_at, conversation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorktreeID, p.ProjectID, p.Task, p.Status, exit, toMillis(p.StartedAt), completed, p.ConversationID)
	if err != nil {
		return fmt.Errorf("insert print session: %w", err)
	}
	return nil
}

// FinishPrintSession records the terminal state of a print session.
func (s *ProjectStore) FinishPrintSession(id, status string, exitCode int) error {
	res, err := s.db.Exec(`
		UPDATE print_sessions SET status = ?, exit_code = ?, completed_at = ? WHERE id = ?`,
		status, exitCode, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrintSessionExitCode rewrites only the exit code. Used by interruption
// recovery to mark -1 sessions handled (-2) or orphaned (-3).
func (s *ProjectStore) SetPrintSessionExitCode(id string, exitCode int, status string) error {
	_, err := s.db.Exec(`UPDATE print_sessions SET exit_code = ?, status = ? WHERE id = ?`,
		exitCode, status, id)
	return err
}

// SetPrintSessionConversationID records the conversation id the agent
// reported on its stream.
func (s *ProjectStore) SetPrintSessionConversationID(id, conversationID string) error {
	_, err := s.db.Exec(`UPDATE print_sessions SET conversation_id = ? WHERE id = ?`,
		conversationID, id)
	return err
}

// GetPrintSession looks a print session up by id.
func (s *ProjectStore) GetPrintSession(id string) (*PrintSession, error) {
	return scanPrintSession(s.db.QueryRow(printSessionSelect+` WHERE id = ?`, id))
}

// ListPrintSessions returns print sessions, optionally filtered by status,
// newest first.
func (s *ProjectStore) ListPrintSessions(status string) ([]PrintSession, error) {
	query := printSessionSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrintSession
	for rows.Next() {
		var p PrintSession
		var exit, completed sql.NullInt64
		var started int64
		if err := rows.Scan(&p.ID, &p.WorktreeID, &p.ProjectID, &p.Task, &p.Status, &exit, &started, &completed, &p.ConversationID); err != nil {
			return nil, err
		}
		if exit.Valid {
			code := int(exit.Int64)
			p.ExitCode = &code
		}
		p.StartedAt = fromMillis(started)
		p.CompletedAt = fromMillisPtr(completed)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestPrintSessionForWorktree returns the most recently started session
// for a worktree, or ErrNotFound.
func (s *ProjectStore) LatestPrintSessionForWorktree(worktreeID string) (*PrintSession, error) {
	return scanPrintSession(s.db.QueryRow(
		printSessionSelect+` WHERE worktree_id = ? ORDER BY started_at DESC LIMIT 1`, worktreeID))
}

// AppendTerminalOutput appends one chunk to a print session's output stream.
func (s *ProjectStore) AppendTerminalOutput(sessionID, chunk string) error {
	_, err := s.db.Exec(`INSERT INTO terminal_output (session_id, chunk, timestamp) VALUES (?, ?, ?)`,
		sessionID, chunk, toMillis(time.Now()))
	return err
}

// GetTerminalOutput returns chunks with id > afterID in insertion order.
// afterID 0 returns the whole stream.
func (s *ProjectStore) GetTerminalOutput(sessionID string, afterID int64) ([]TerminalOutputChunk, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, chunk, timestamp FROM terminal_output
		WHERE session_id = ? AND id > ? ORDER BY id ASC`, sessionID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TerminalOutputChunk
	for rows.Next() {
		var c TerminalOutputChunk
		var ts int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Chunk, &ts); err != nil {
			return nil, err
		}
		c.Timestamp = fromMillis(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetFullTerminalOutput concatenates every chunk of a session in id order.
func (s *ProjectStore) GetFullTerminalOutput(sessionID string) (string, error) {
	chunks, err := s.GetTerminalOutput(sessionID, 0)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Chunk)
	}
	return b.String(), nil
}

const printSessionSelect = `
	SELECT id, worktree_id, project_id, task, status, exit_code, started_at, completed_at, conversation_id
	FROM print_sessions`

func scanPrintSession(row *sql.Row) (*PrintSession, error) {
	var p PrintSession
	var exit, completed sql.NullInt64
	var started int64
	err := row.Scan(&p.ID, &p.WorktreeID, &p.ProjectID, &p.Task, &p.Status, &exit, &started, &completed, &p.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if exit.Valid {
		code := int(exit.Int64)
		p.ExitCode = &code
	}
	p.StartedAt = fromMillis(started)
	p.CompletedAt = fromMillisPtr(completed)
	return &p, nil
}
