package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertAgentSession inserts a new session row. The UNIQUE worktree_id
// constraint enforces the one-session-per-worktree invariant at the engine
// level; callers must delete any predecessor first.
func (s *ProjectStore) InsertAgentSession(a AgentSession) error {
	_, err := s.db.Exec(`
		INSERT INTO agent_sessions (id, worktree_id, project_id, command, cwd, conversation_id, status, created_at, last_activity_at, resume_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorktreeID, a.ProjectID, a.Command, a.Cwd, a.ConversationResume,
		a.Status, toMillis(a.CreatedAt), toMillis(a.LastActivityAt), a.ResumeCount)
	if err != nil {
		return fmt.Errorf("insert agent session: %w", err)
	}
	return nil
}

// GetAgentSession looks a session up by id.
func (s *ProjectStore) GetAgentSession(id string) (*AgentSession, error) {
	return s.scanAgentSession(s.db.QueryRow(agentSessionSelect+` WHERE id = ?`, id))
}

// GetAgentSessionByWorktree returns the session row for a worktree, if any.
func (s *ProjectStore) GetAgentSessionByWorktree(worktreeID string) (*AgentSession, error) {
	return s.scanAgentSession(s.db.QueryRow(agentSessionSelect+` WHERE worktree_id = ?`, worktreeID))
}

// ListAgentSessions returns sessions filtered by status; an empty status
// returns everything.
func (s *ProjectStore) ListAgentSessions(status string) ([]AgentSession, error) {
	query := agentSessionSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentSession
	for rows.Next() {
		var a AgentSession
		var created, lastActivity int64
		if err := rows.Scan(&a.ID, &a.WorktreeID, &a.ProjectID, &a.Command, &a.Cwd,
			&a.ConversationResume, &a.Status, &created, &lastActivity, &a.ResumeCount); err != nil {
			return nil, err
		}
		a.CreatedAt = fromMillis(created)
		a.LastActivityAt = fromMillis(lastActivity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentSessionStatus moves a session to a new status and touches
// last_activity_at.
func (s *ProjectStore) UpdateAgentSessionStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE agent_sessions SET status = ?, last_activity_at = ? WHERE id = ?`,
		status, toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllSessionsDisconnected bulk-moves every active session to
// disconnected (daemon lost). Returns the number of rows changed.
func (s *ProjectStore) MarkAllSessionsDisconnected() (int64, error) {
	res, err := s.db.Exec(`UPDATE agent_sessions SET status = ?, last_activity_at = ? WHERE status = ?`,
		SessionDisconnected, toMillis(time.Now()), SessionActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceAgentSessionID swaps the session id after a resume, bumping
// resume_count and setting the resumed status.
func (s *ProjectStore) ReplaceAgentSessionID(oldID, newID string) error {
	res, err := s.db.Exec(`
		UPDATE agent_sessions
		SET id = ?, status = ?, resume_count = resume_count + 1, last_activity_at = ?
		WHERE id = ?`,
		newID, SessionResumed, toMillis(time.Now()), oldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetConversationResumeID records the agent conversation id used to
// re-attach after a restore.
func (s *ProjectStore) SetConversationResumeID(id, conversationID string) error {
	_, err := s.db.Exec(`UPDATE agent_sessions SET conversation_id = ? WHERE id = ?`, conversationID, id)
	return err
}

// DeleteAgentSession removes a session row.
func (s *ProjectStore) DeleteAgentSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE id = ?`, id)
	return err
}

// DeleteAgentSessionByWorktree removes the session row for a worktree.
func (s *ProjectStore) DeleteAgentSessionByWorktree(worktreeID string) error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE worktree_id = ?`, worktreeID)
	return err
}

// PruneTerminatedSessions deletes terminated sessions older than the cutoff.
func (s *ProjectStore) PruneTerminatedSessions(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM agent_sessions WHERE status = ? AND last_activity_at < ?`,
		SessionTerminated, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const agentSessionSelect = `
	SELECT id, worktree_id, project_id, command, cwd, conversation_id, status, created_at, last_activity_at, resume_count
	FROM agent_sessions`

func (s *ProjectStore) scanAgentSession(row *sql.Row) (*AgentSession, error) {
	var a AgentSession
	var created, lastActivity int64
	err := row.Scan(&a.ID, &a.WorktreeID, &a.ProjectID, &a.Command, &a.Cwd,
		&a.ConversationResume, &a.Status, &created, &lastActivity, &a.ResumeCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	a.LastActivityAt = fromMillis(lastActivity)
	return &a, nil
}
