// Package protocol defines the JSON frames exchanged with the terminal
// daemon over WebSocket. Requests carry a client-allocated requestId;
// replies echo it back. Everything else is an unsolicited event.
package protocol

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for every daemon message, inbound or outbound.
// Fields beyond Type/RequestID are populated per frame type; unused ones
// stay empty and are omitted from the wire.
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`

	// session:create
	WorktreeID     string `json:"worktreeId,omitempty"`
	ProjectPath    string `json:"projectPath,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	InitialCommand string `json:"initialCommand,omitempty"`

	// session-scoped requests and events
	SessionID string `json:"sessionId,omitempty"`

	// terminal:input / terminal:data
	Data string `json:"data,omitempty"`
	Seq  int64  `json:"seq,omitempty"`

	// terminal:resize
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// terminal:ack
	Count int `json:"count,omitempty"`

	// terminal:exit
	ExitCode *int `json:"exitCode,omitempty"`

	// terminal:scrollback
	Scrollback []string `json:"scrollback,omitempty"`

	// session:created / session:info
	Session *SessionInfo `json:"session,omitempty"`

	// session:list
	Sessions []SessionInfo `json:"sessions,omitempty"`

	// session:error / terminal:error
	Error string `json:"error,omitempty"`

	// agent:rate-limited
	RateLimit *RateLimitInfo `json:"rateLimit,omitempty"`
}

// SessionInfo is the daemon's public view of a PTY session.
type SessionInfo struct {
	ID         string    `json:"id"`
	WorktreeID string    `json:"worktreeId"`
	Cwd        string    `json:"cwd"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RateLimitInfo identifies the session an agent rate-limit event refers to.
type RateLimitInfo struct {
	SessionID  string `json:"sessionId"`
	WorktreeID string `json:"worktreeId"`
}

// Encode marshals a frame for the wire.
func Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }

// Decode unmarshals a wire frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
