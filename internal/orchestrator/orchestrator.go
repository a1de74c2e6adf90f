// Package orchestrator runs the coordination loop: every tick it snapshots
// project state, asks the LLM what to do, and dispatches the resulting tool
// calls through the activity service.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/internal/activity"
	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/providers"
	"github.com/orchard-sh/orchard/internal/store"
	"github.com/orchard-sh/orchard/internal/tracing"
	"github.com/orchard-sh/orchard/internal/worktree"
)

const defaultTickInterval = 5 * time.Second

const systemPrompt = `You are the orchestrator for a fleet of coding agents working in git worktrees of one repository.
Each tick you receive a snapshot of project state. Decide what, if anything, to do and call the matching tools.
Guidelines:
- Create a worktree per independent unit of work; never run two tasks in one worktree.
- Merge completed branches promptly, oldest first. On conflicts, tell the user.
- Answer agent questions via RESPOND_TO_QUESTION, user questions via SEND_MESSAGE with replyTo.
- Record non-obvious decisions with LOG_ACTIVITY.
- When there is nothing to do, call no tools.`

// WorktreeAPI is the worktree manager surface the loop drives.
type WorktreeAPI interface {
	List() ([]store.Worktree, error)
	Get(id string) (*store.Worktree, error)
	Create(ctx context.Context, branch string, opts worktree.CreateOptions) (*store.Worktree, error)
	Archive(id string) error
	Delete(ctx context.Context, id string, force bool) error
}

// TaskRunner starts print sessions.
type TaskRunner interface {
	Execute(ctx context.Context, w *store.Worktree, task string) (string, error)
}

// Merger is the merge queue surface.
type Merger interface {
	Queue() ([]store.MergeQueueEntry, error)
	Merge(ctx context.Context, worktreeID string) error
}

// SessionAPI is the agent session registry surface.
type SessionAPI interface {
	Get(worktreeID string) (*store.AgentSession, error)
	Register(ctx context.Context, w *store.Worktree, command string) (*store.AgentSession, error)
}

// TerminalWriter types keystrokes into daemon sessions.
type TerminalWriter interface {
	Input(sessionID, data string) error
}

// Orchestrator owns the tick loop.
type Orchestrator struct {
	cfg       *config.Config
	provider  providers.Provider
	store     *store.ProjectStore
	worktrees WorktreeAPI
	runner    TaskRunner
	queue     Merger
	sessions  SessionAPI
	terminal  TerminalWriter
	activity  *activity.Service

	tickMu   sync.Mutex // single-flight
	interval chan time.Duration
}

// New wires the loop. Start it with Run.
func New(cfg *config.Config, provider providers.Provider, st *store.ProjectStore,
	worktrees WorktreeAPI, runner TaskRunner, queue Merger,
	sessions SessionAPI, terminal TerminalWriter, act *activity.Service) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		store:     st,
		worktrees: worktrees,
		runner:    runner,
		queue:     queue,
		sessions:  sessions,
		terminal:  terminal,
		activity:  act,
		interval:  make(chan time.Duration, 1),
	}
}

// Run ticks until ctx is cancelled. Returns after any in-flight tick
// finishes.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("orchestrator started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			// Wait out an in-flight tick before reporting stopped.
			o.tickMu.Lock()
			o.tickMu.Unlock()
			slog.Info("orchestrator stopped")
			return ctx.Err()
		case d := <-o.interval:
			ticker.Reset(d)
			slog.Info("tick interval updated", "interval", d)
		case <-ticker.C:
			if oc := o.cfg.Snapshot(); !oc.Enabled || oc.Paused {
				continue
			}
			go o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tickInterval() time.Duration {
	if ms := o.cfg.Snapshot().TickIntervalMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultTickInterval
}

// UpdateConfig applies hot-reloaded settings to the running loop.
func (o *Orchestrator) UpdateConfig(oc config.OrchestratorConfig) {
	o.cfg.SetOrchestrator(oc)
	select {
	case o.interval <- o.tickInterval():
	default:
	}
}

// errOrchestratorIdle rejects ticks while the loop is disabled or paused.
var errOrchestratorIdle = errors.New("orchestrator disabled or paused")

// ManualTick runs one tick synchronously. A disabled or paused
// orchestrator refuses.
func (o *Orchestrator) ManualTick(ctx context.Context) error {
	if oc := o.cfg.Snapshot(); !oc.Enabled || oc.Paused {
		return errOrchestratorIdle
	}
	return o.tick(ctx)
}

// errTickInFlight suppresses overlapping ticks.
var errTickInFlight = errors.New("tick already in flight")

func (o *Orchestrator) tick(ctx context.Context) error {
	if !o.tickMu.TryLock() {
		return errTickInFlight
	}
	defer o.tickMu.Unlock()

	correlationID := uuid.NewString()
	ctx, span := tracing.StartWithCorrelation(ctx, "orchestrator.tick", correlationID)
	defer span.End()

	snap := o.buildSnapshot(ctx)
	oc := o.cfg.Snapshot()

	req := providers.ChatRequest{
		Model: oc.Model,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: snap.render()},
		},
		Tools: toolDefinitions,
	}

	o.activity.Log(store.ActivityLLMRequest, store.CategoryOrchestrator,
		"orchestrator tick", map[string]interface{}{
			"model":         req.Model,
			"chat_pending":  len(snap.Chat),
			"patterns":      len(snap.Patterns),
			"queue_pending": snap.QueueHead != nil,
		}, correlationID)

	llmCtx, llmSpan := tracing.Start(ctx, "llm.call")
	resp, err := o.provider.Chat(llmCtx, req)
	llmSpan.End()
	if err != nil {
		o.activity.Error(store.CategoryOrchestrator, "LLM call failed", err, correlationID)
		return err
	}

	o.activity.Log(store.ActivityLLMResponse, store.CategoryOrchestrator,
		"orchestrator response", map[string]interface{}{
			"finish_reason": resp.FinishReason,
			"tool_calls":    len(resp.ToolCalls),
			"usage":         resp.Usage,
		}, correlationID)

	for _, call := range resp.ToolCalls {
		if err := o.dispatch(ctx, correlationID, call, snap); err != nil {
			slog.Warn("tool call failed", "tool", call.Name, "error", err)
		}
	}

	// The snapshot's chat and patterns have now been seen by the LLM.
	for _, m := range snap.Chat {
		if err := o.store.MarkChatProcessed(m.ID); err != nil {
			slog.Warn("mark chat processed", "message", m.ID, "error", err)
		}
	}
	for _, p := range snap.Patterns {
		if err := o.store.MarkPatternHandled(p.ID); err != nil {
			slog.Warn("mark pattern handled", "pattern", p.ID, "error", err)
		}
	}
	return nil
}

// dispatch executes one tool call inside the activity wrapper.
func (o *Orchestrator) dispatch(ctx context.Context, correlationID string, call providers.ToolCall, snap *snapshot) error {
	ctx, span := tracing.StartWithCorrelation(ctx, "tool."+call.Name, correlationID)
	defer span.End()

	return o.activity.Action(correlationID, call.Name, call.Arguments, func() (any, error) {
		args := toolArgs(call.Arguments)
		switch call.Name {
		case ToolCreateWorktree:
			return o.createWorktree(ctx, args)
		case ToolSendTask:
			return o.sendTask(ctx, args.str("worktreeId"), args.str("message"))
		case ToolMergeWorktree:
			return o.mergeWorktree(ctx, args.str("worktreeId"), args.boolean("deleteAfter"))
		case ToolArchiveWorktree:
			return o.archiveWorktree(ctx, args.str("worktreeId"), args.boolean("deleteFiles"))
		case ToolSendMessage:
			return o.sendMessage(args.str("message"), args.str("replyTo"))
		case ToolNudgeAgent:
			return o.nudgeAgent(args.str("worktreeId"), args.str("message"))
		case ToolCheckStatus:
			return o.checkStatus(args.str("worktreeId"))
		case ToolRespondToQuestion:
			return o.nudgeAgent(args.str("worktreeId"), args.str("response"))
		case ToolLogActivity:
			o.activity.Log(store.ActivityDecision, args.strOr("category", store.CategoryOrchestrator),
				args.str("summary"), args.str("details"), correlationID)
			return nil, nil
		case ToolGetPendingMessages:
			return snap.Chat, nil
		default:
			return nil, fmt.Errorf("unknown tool %q", call.Name)
		}
	})
}

func (o *Orchestrator) createWorktree(ctx context.Context, args toolArgs) (any, error) {
	name := args.str("name")
	if name == "" {
		return nil, errors.New("name is required")
	}
	w, err := o.worktrees.Create(ctx, BranchName(name), worktree.CreateOptions{})
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{"worktreeId": w.ID, "branch": w.Branch}

	if task := args.str("task"); task != "" {
		sessionID, err := o.runner.Execute(ctx, w, task)
		if err != nil {
			return result, fmt.Errorf("worktree created but task failed to start: %w", err)
		}
		result["printSessionId"] = sessionID
	}
	if args.boolean("startAgent") {
		session, err := o.sessions.Register(ctx, w, o.cfg.Snapshot().AgentCommand)
		if err != nil {
			return result, fmt.Errorf("worktree created but agent failed to start: %w", err)
		}
		result["sessionId"] = session.ID
	}
	return result, nil
}

func (o *Orchestrator) sendTask(ctx context.Context, worktreeID, message string) (any, error) {
	w, err := o.worktrees.Get(worktreeID)
	if err != nil {
		return nil, err
	}
	sessionID, err := o.runner.Execute(ctx, w, message)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"printSessionId": sessionID}, nil
}

func (o *Orchestrator) mergeWorktree(ctx context.Context, worktreeID string, deleteAfter bool) (any, error) {
	if err := o.queue.Merge(ctx, worktreeID); err != nil {
		return nil, err
	}
	if deleteAfter {
		if err := o.worktrees.Archive(worktreeID); err != nil {
			return nil, fmt.Errorf("merged but archive failed: %w", err)
		}
		if err := o.worktrees.Delete(ctx, worktreeID, false); err != nil {
			return nil, fmt.Errorf("merged but delete failed: %w", err)
		}
	}
	return map[string]interface{}{"merged": true}, nil
}

func (o *Orchestrator) archiveWorktree(ctx context.Context, worktreeID string, deleteFiles bool) (any, error) {
	if err := o.worktrees.Archive(worktreeID); err != nil {
		return nil, err
	}
	if deleteFiles {
		if err := o.worktrees.Delete(ctx, worktreeID, true); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"archived": true}, nil
}

func (o *Orchestrator) sendMessage(message, replyTo string) (any, error) {
	msg := store.ChatMessage{
		ID:        uuid.NewString(),
		ProjectID: o.store.ProjectID(),
		Timestamp: time.Now(),
		Sender:    store.SenderOrchestrator,
		Text:      message,
		ReplyTo:   replyTo,
		Processed: true,
		Status:    store.ChatResolved,
	}
	if err := o.store.InsertChatMessage(msg); err != nil {
		return nil, err
	}
	if replyTo != "" {
		if err := o.store.AdvanceChatStatus(replyTo, store.ChatResolved); err != nil {
			slog.Warn("resolve replied message", "message", replyTo, "error", err)
		}
	}
	return map[string]interface{}{"messageId": msg.ID}, nil
}

func (o *Orchestrator) nudgeAgent(worktreeID, message string) (any, error) {
	session, err := o.sessions.Get(worktreeID)
	if err != nil {
		return nil, err
	}
	if message == "" {
		message = "Please give a brief status update on your current task."
	}
	if err := o.terminal.Input(session.ID, message+"\r"); err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": session.ID}, nil
}

func (o *Orchestrator) checkStatus(worktreeID string) (any, error) {
	if worktreeID != "" {
		return o.worktrees.Get(worktreeID)
	}
	return o.worktrees.List()
}

// BranchName derives the feature branch for a worktree name: lowercase,
// characters outside [a-z0-9-] replaced by a dash.
func BranchName(name string) string {
	slug := strings.Map(func(r rune) rune {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, strings.ToLower(name))
	return "feature/" + slug
}

// toolArgs is a thin typed accessor over LLM-provided arguments.
type toolArgs map[string]interface{}

func (a toolArgs) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a toolArgs) strOr(key, fallback string) string {
	if s := a.str(key); s != "" {
		return s
	}
	return fallback
}

func (a toolArgs) boolean(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
