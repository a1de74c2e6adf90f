// Package store persists control-plane state in SQLite: one process-wide
// registry database for project identity and one embedded database per
// project for everything else. All entities are JSON-serialisable for
// interchange.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Project is a registered repository root.
type Project struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	RepoURL   string    `json:"repoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	OpenedAt  time.Time `json:"openedAt"`
}

// WorktreeStatus is the git status summary of a worktree.
type WorktreeStatus struct {
	Ahead     int `json:"ahead"`
	Behind    int `json:"behind"`
	Modified  int `json:"modified"`
	Staged    int `json:"staged"`
	Untracked int `json:"untracked"`
}

// Clean reports a working tree with no local changes.
func (s WorktreeStatus) Clean() bool {
	return s.Modified == 0 && s.Staged == 0 && s.Untracked == 0
}

// Worktree modes.
const (
	WorktreeModeNormal = "normal"
	WorktreeModePlan   = "plan"
)

// Worktree is a git worktree record. ID is deterministic: the hex SHA-256
// of "projectID:path" truncated to UUID shape, so references survive
// process restarts.
type Worktree struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"projectId"`
	Path           string         `json:"path"`
	Branch         string         `json:"branch"`
	IsMain         bool           `json:"isMain"`
	Merged         bool           `json:"merged"`
	Archived       bool           `json:"archived"`
	Mode           string         `json:"mode,omitempty"`
	Status         WorktreeStatus `json:"status"`
	LastCommitDate time.Time      `json:"lastCommitDate"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Agent session states.
const (
	SessionActive       = "active"
	SessionDisconnected = "disconnected"
	SessionResumed      = "resumed"
	SessionTerminated   = "terminated"
)

// AgentSession is the persisted record of an interactive agent running in a
// worktree. At most one non-terminated session exists per worktree
// (UNIQUE worktree_id).
type AgentSession struct {
	ID                  string    `json:"id"`
	WorktreeID          string    `json:"worktreeId"`
	ProjectID           string    `json:"projectId"`
	Command             string    `json:"command"`
	Cwd                 string    `json:"cwd"`
	ConversationResume  string    `json:"conversationResumeId,omitempty"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
	LastActivityAt      time.Time `json:"lastActivityAt"`
	ResumeCount         int       `json:"resumeCount"`
}

// Print session states.
const (
	PrintRunning   = "running"
	PrintCompleted = "completed"
	PrintFailed    = "failed"
)

// Print session exit codes beyond the process exit status.
const (
	ExitInterrupted        = -1 // process died, state unknown
	ExitInterruptedHandled = -2 // interruption seen and resolved
	ExitOrphaned           = -3 // worktree archived while running
)

// PrintSession is a one-shot agent invocation.
type PrintSession struct {
	ID          string     `json:"id"`
	WorktreeID  string     `json:"worktreeId"`
	ProjectID   string     `json:"projectId"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	// ConversationID is the agent conversation captured from the output
	// stream; interrupted runs are resumable with it.
	ConversationID string `json:"conversationId,omitempty"`
}

// TerminalOutputChunk is one append-only slice of print-session output.
type TerminalOutputChunk struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Chunk     string    `json:"chunk"`
	Timestamp time.Time `json:"timestamp"`
}

// MergeQueueEntry is a completed branch awaiting merge. Keyed by worktree.
type MergeQueueEntry struct {
	WorktreeID  string    `json:"worktreeId"`
	Branch      string    `json:"branch"`
	CompletedAt time.Time `json:"completedAt"`
	Summary     string    `json:"summary"`
	HasCommits  bool      `json:"hasCommits"`
	Merged      bool      `json:"merged"`
}

// Chat senders and statuses.
const (
	SenderUser         = "user"
	SenderOrchestrator = "orchestrator"

	ChatUnread   = "unread"
	ChatRead     = "read"
	ChatWorking  = "working"
	ChatResolved = "resolved"
)

// ChatMessage is one user↔orchestrator message.
type ChatMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	Processed bool      `json:"processed"`
	Status    string    `json:"status"`
}

// Activity entry types.
const (
	ActivityTick        = "tick"
	ActivityAction      = "action"
	ActivityEvent       = "event"
	ActivityDecision    = "decision"
	ActivityError       = "error"
	ActivityLLMRequest  = "llm_request"
	ActivityLLMResponse = "llm_response"
)

// Activity categories.
const (
	CategorySystem       = "system"
	CategoryOrchestrator = "orchestrator"
	CategoryAgent        = "agent"
	CategoryWorktree     = "worktree"
	CategoryUser         = "user"
)

// ActivityEntry is one append-only structured log record. Details holds a
// JSON document; CorrelationID groups an LLM call with its tool executions.
type ActivityEntry struct {
	ID            int64     `json:"id"`
	ProjectID     string    `json:"projectId"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	Summary       string    `json:"summary"`
	Details       string    `json:"details,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Pattern types the terminal monitor detects.
const (
	PatternTaskComplete = "task_complete"
	PatternQuestion     = "question"
	PatternError        = "error"
	PatternRateLimit    = "rate_limit"
	PatternReady        = "ready"
)

// DetectedPattern is a persisted terminal-output signal.
type DetectedPattern struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	SessionID  string     `json:"sessionId"`
	WorktreeID string     `json:"worktreeId"`
	ProjectID  string     `json:"projectId"`
	Timestamp  time.Time  `json:"timestamp"`
	Content    string     `json:"content"`
	Handled    bool       `json:"handled"`
	HandledAt  *time.Time `json:"handledAt,omitempty"`
}

// FileLock is derived from git status, never stored.
type FileLock struct {
	FilePath     string    `json:"filePath"`
	WorktreeID   string    `json:"worktreeId"`
	Branch       string    `json:"branch"`
	Status       string    `json:"status"` // modified, staged, untracked
	LastModified time.Time `json:"lastModified"`
}
