package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orchard-sh/orchard/internal/store"
)

// patternWindow bounds how far back unhandled terminal patterns are pulled
// into the snapshot.
const patternWindow = time.Hour

// decisionLimit caps the recent-decision context carried between ticks.
const decisionLimit = 10

// snapshot is the project state handed to the LLM on each tick.
type snapshot struct {
	Chat      []store.ChatMessage
	Sessions  []store.AgentSession
	Worktrees []store.Worktree
	QueueHead *store.MergeQueueEntry
	Patterns  []store.DetectedPattern
	Decisions []store.ActivityEntry
}

func (o *Orchestrator) buildSnapshot(ctx context.Context) *snapshot {
	snap := &snapshot{}

	var err error
	if snap.Chat, err = o.store.ListChatMessages(true); err != nil {
		slog.Warn("snapshot chat", "error", err)
	}
	if snap.Sessions, err = o.store.ListAgentSessions(""); err != nil {
		slog.Warn("snapshot sessions", "error", err)
	}
	if snap.Worktrees, err = o.worktrees.List(); err != nil {
		slog.Warn("snapshot worktrees", "error", err)
	}
	if queue, err := o.queue.Queue(); err != nil {
		slog.Warn("snapshot merge queue", "error", err)
	} else if len(queue) > 0 {
		snap.QueueHead = &queue[0]
	}
	if snap.Patterns, err = o.store.ListUnhandledPatterns(time.Now().Add(-patternWindow)); err != nil {
		slog.Warn("snapshot patterns", "error", err)
	}
	if decisions, err := o.store.ListActivity(store.ActivityFilter{
		Type: store.ActivityDecision, Limit: decisionLimit,
	}); err != nil {
		slog.Warn("snapshot decisions", "error", err)
	} else {
		snap.Decisions = decisions
	}
	return snap
}

// render produces the user-turn text for the LLM.
func (s *snapshot) render() string {
	var b strings.Builder

	b.WriteString("## Pending user messages\n")
	if len(s.Chat) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range s.Chat {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", m.ID, m.Sender, m.Text)
	}

	b.WriteString("\n## Worktrees\n")
	for _, w := range s.Worktrees {
		state := "active"
		switch {
		case w.Archived:
			state = "archived"
		case w.Merged:
			state = "merged"
		case w.IsMain:
			state = "main"
		}
		fmt.Fprintf(&b, "- %s branch=%s state=%s ahead=%d modified=%d\n",
			w.ID, w.Branch, state, w.Status.Ahead, w.Status.Modified+w.Status.Staged)
	}

	b.WriteString("\n## Agent sessions\n")
	if len(s.Sessions) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range s.Sessions {
		fmt.Fprintf(&b, "- %s worktree=%s status=%s\n", a.ID, a.WorktreeID, a.Status)
	}

	if s.QueueHead != nil {
		fmt.Fprintf(&b, "\n## Merge queue head\n- worktree=%s branch=%s completed=%s\n",
			s.QueueHead.WorktreeID, s.QueueHead.Branch,
			s.QueueHead.CompletedAt.Format(time.RFC3339))
	}

	if len(s.Patterns) > 0 {
		b.WriteString("\n## Terminal signals\n")
		for _, p := range s.Patterns {
			fmt.Fprintf(&b, "- %s worktree=%s: %s\n", p.Type, p.WorktreeID, tail(p.Content, 120))
		}
	}

	if len(s.Decisions) > 0 {
		b.WriteString("\n## Recent decisions\n")
		for _, d := range s.Decisions {
			fmt.Fprintf(&b, "- %s\n", d.Summary)
		}
	}

	return b.String()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
