package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// chatRank orders chat statuses; transitions may only move forward.
var chatRank = map[string]int{
	ChatUnread:   0,
	ChatRead:     1,
	ChatWorking:  2,
	ChatResolved: 3,
}

// InsertChatMessage appends a chat message.
func (s *ProjectStore) InsertChatMessage(m ChatMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Status == "" {
		m.Status = ChatUnread
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_messages (id, project_id, timestamp, sender, text, reply_to, processed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, toMillis(m.Timestamp), m.Sender, m.Text, m.ReplyTo, boolInt(m.Processed), m.Status)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages returns messages in timestamp order, optionally only
// unprocessed user messages (the orchestrator's inbox).
func (s *ProjectStore) ListChatMessages(onlyUnprocessed bool) ([]ChatMessage, error) {
	query := `SELECT id, project_id, timestamp, sender, text, reply_to, processed, status FROM chat_messages`
	if onlyUnprocessed {
		query += ` WHERE processed = 0 AND sender = 'user'`
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var ts int64
		var processed int
		if err := rows.Scan(&m.ID, &m.ProjectID, &ts, &m.Sender, &m.Text, &m.ReplyTo, &processed, &m.Status); err != nil {
			return nil, err
		}
		m.Timestamp = fromMillis(ts)
		m.Processed = processed != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// AdvanceChatStatus moves a message's status forward through
// unread → read → working → resolved. Backwards transitions are rejected.
func (s *ProjectStore) AdvanceChatStatus(id, status string) error {
	rank, ok := chatRank[status]
	if !ok {
		return fmt.Errorf("invalid chat status %q", status)
	}

	row := s.db.QueryRow(`SELECT status FROM chat_messages WHERE id = ?`, id)
	var current string
	err := row.Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if rank < chatRank[current] {
		return fmt.Errorf("chat status cannot move backwards (%s → %s)", current, status)
	}

	_, err = s.db.Exec(`UPDATE chat_messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// MarkChatProcessed sets processed=1. Idempotent.
func (s *ProjectStore) MarkChatProcessed(id string) error {
	_, err := s.db.Exec(`UPDATE chat_messages SET processed = 1 WHERE id = ?`, id)
	return err
}
