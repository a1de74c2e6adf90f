// Package registry keeps the persistent record of interactive agent
// sessions, one per worktree, and reconciles it with the daemon's live
// session table across crashes and reconnects.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/daemonclient"
	"github.com/orchard-sh/orchard/internal/store"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

// DaemonAPI is the slice of the daemon client the registry needs.
// *daemonclient.Client satisfies it; tests use fakes.
type DaemonAPI interface {
	CreateSession(ctx context.Context, worktreeID, projectPath, cwd, initialCommand string) (*protocol.SessionInfo, error)
	DestroySession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]protocol.SessionInfo, error)
}

// orchestratorPrefix marks daemon sessions owned by the orchestrator
// itself; those are never reported as orphans.
const orchestratorPrefix = "orchestrator-"

// terminatedRetention is how long terminated session rows are kept for
// audit before the janitor prunes them.
const terminatedRetention = 7 * 24 * time.Hour

// Registry coordinates persisted agent sessions with the daemon.
type Registry struct {
	store  *store.ProjectStore
	daemon DaemonAPI
	events *bus.Bus
	// projectPath is the repository root handed to the daemon on spawn.
	projectPath string
}

// New builds a registry over the project store and daemon client.
func New(st *store.ProjectStore, daemon DaemonAPI, events *bus.Bus, projectPath string) *Registry {
	return &Registry{store: st, daemon: daemon, events: events, projectPath: projectPath}
}

// Register creates a daemon session for the worktree and persists the
// record. Any pre-existing session for the worktree is destroyed first, so
// the one-session-per-worktree invariant holds even across restarts.
func (r *Registry) Register(ctx context.Context, w *store.Worktree, command string) (*store.AgentSession, error) {
	if existing, err := r.store.GetAgentSessionByWorktree(w.ID); err == nil {
		slog.Info("replacing existing session", "worktree", w.ID, "session", existing.ID, "status", existing.Status)
		if err := r.daemon.DestroySession(ctx, existing.ID); err != nil {
			slog.Warn("destroy stale daemon session", "session", existing.ID, "error", err)
		}
		if err := r.store.DeleteAgentSessionByWorktree(w.ID); err != nil {
			return nil, err
		}
	}

	info, err := r.daemon.CreateSession(ctx, w.ID, r.projectPath, w.Path, command)
	if err != nil {
		return nil, fmt.Errorf("create daemon session: %w", err)
	}

	now := time.Now()
	session := store.AgentSession{
		ID:             info.ID,
		WorktreeID:     w.ID,
		ProjectID:      w.ProjectID,
		Command:        command,
		Cwd:            w.Path,
		Status:         store.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store.InsertAgentSession(session); err != nil {
		// The daemon session exists but the record failed; kill it rather
		// than leak an untracked agent.
		r.daemon.DestroySession(ctx, info.ID)
		return nil, err
	}
	slog.Info("session registered", "worktree", w.ID, "session", info.ID)
	return &session, nil
}

// Unregister terminates a session. The row is kept with terminated status
// for audit and pruned later.
func (r *Registry) Unregister(ctx context.Context, sessionID string) error {
	if err := r.daemon.DestroySession(ctx, sessionID); err != nil {
		slog.Warn("destroy daemon session", "session", sessionID, "error", err)
	}
	return r.store.UpdateAgentSessionStatus(sessionID, store.SessionTerminated)
}

// Get returns the persisted session for a worktree.
func (r *Registry) Get(worktreeID string) (*store.AgentSession, error) {
	return r.store.GetAgentSessionByWorktree(worktreeID)
}

// List returns persisted sessions, optionally filtered by status.
func (r *Registry) List(status string) ([]store.AgentSession, error) {
	return r.store.ListAgentSessions(status)
}

// Restore re-spawns the daemon session for a disconnected worktree with the
// original command and cwd. When a conversation id was recorded and the
// command has no resume flag, the flag is appended so the agent re-attaches
// to its previous conversation.
func (r *Registry) Restore(ctx context.Context, worktreeID string) (*store.AgentSession, error) {
	session, err := r.store.GetAgentSessionByWorktree(worktreeID)
	if err != nil {
		return nil, err
	}

	command := session.Command
	if session.ConversationResume != "" && !strings.Contains(command, "--resume") {
		command = fmt.Sprintf("%s --resume %s", command, session.ConversationResume)
	}

	info, err := r.daemon.CreateSession(ctx, worktreeID, r.projectPath, session.Cwd, command)
	if err != nil {
		return nil, fmt.Errorf("restore daemon session: %w", err)
	}
	if err := r.store.ReplaceAgentSessionID(session.ID, info.ID); err != nil {
		return nil, err
	}
	restored, err := r.store.GetAgentSession(info.ID)
	if err != nil {
		return nil, err
	}
	slog.Info("session restored", "worktree", worktreeID,
		"session", info.ID, "resume_count", restored.ResumeCount)
	return restored, nil
}

// SetConversationID records the agent conversation id used by Restore.
func (r *Registry) SetConversationID(sessionID, conversationID string) error {
	return r.store.SetConversationResumeID(sessionID, conversationID)
}

// ValidateAll reconciles registry rows against the daemon's live sessions.
// Rows present in the daemon go active, missing rows go disconnected, and
// daemon sessions with no row are returned as orphans (orchestrator-owned
// sessions excepted).
func (r *Registry) ValidateAll(ctx context.Context) (orphans []string, err error) {
	live, err := r.daemon.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list daemon sessions: %w", err)
	}
	liveByID := make(map[string]bool, len(live))
	for _, s := range live {
		liveByID[s.ID] = true
	}

	records, err := r.store.ListAgentSessions("")
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(records))
	for _, rec := range records {
		recorded[rec.ID] = true
		if rec.Status == store.SessionTerminated {
			continue
		}
		target := store.SessionDisconnected
		if liveByID[rec.ID] {
			target = store.SessionActive
		}
		if rec.Status != target {
			if err := r.store.UpdateAgentSessionStatus(rec.ID, target); err != nil {
				slog.Warn("update session status", "session", rec.ID, "error", err)
			}
		}
	}

	for _, s := range live {
		if recorded[s.ID] || strings.HasPrefix(s.WorktreeID, orchestratorPrefix) {
			continue
		}
		orphans = append(orphans, s.ID)
	}
	if len(orphans) > 0 {
		slog.Warn("orphaned daemon sessions", "count", len(orphans))
	}
	return orphans, nil
}

// PruneTerminated removes terminated rows older than the retention window.
func (r *Registry) PruneTerminated() (int64, error) {
	return r.store.PruneTerminatedSessions(time.Now().Add(-terminatedRetention))
}

// Run reacts to daemon lifecycle events until ctx is cancelled: a lost
// daemon bulk-disconnects every active row, a recovered one triggers
// revalidation.
func (r *Registry) Run(ctx context.Context) {
	connected, cancelConnected := r.events.Subscribe(daemonclient.EventDaemonConnected)
	defer cancelConnected()
	disconnected, cancelDisconnected := r.events.Subscribe(daemonclient.EventDaemonDisconnected)
	defer cancelDisconnected()

	for {
		select {
		case <-connected:
			if _, err := r.ValidateAll(ctx); err != nil {
				slog.Warn("session validation after reconnect", "error", err)
			}
		case <-disconnected:
			n, err := r.store.MarkAllSessionsDisconnected()
			if err != nil {
				slog.Warn("bulk disconnect sessions", "error", err)
			} else if n > 0 {
				slog.Info("sessions marked disconnected", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
