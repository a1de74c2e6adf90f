// Package executor runs one-shot agent invocations (print sessions): it
// spawns the agent with a task prompt, captures a typed trace of its tool
// uses, and enqueues the branch for merge when the run commits work.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/mergequeue"
	"github.com/orchard-sh/orchard/internal/store"
	"github.com/orchard-sh/orchard/internal/worktree"
)

// taskPreamble precedes every task so agents commit their work and report
// completion through the tool server.
const taskPreamble = "You are working in a dedicated git worktree. " +
	"Commit your work often with clear messages. " +
	"When you have finished the task, call the report_completion tool with a summary.\n\nTask: "

// TaskRunningError is returned when a worktree already has a running print
// session. It carries the existing session for conflict reporting.
type TaskRunningError struct {
	SessionID string
	StartedAt time.Time
}

func (e *TaskRunningError) Error() string {
	return fmt.Sprintf("task already running: session %s since %s",
		e.SessionID, e.StartedAt.Format(time.RFC3339))
}

type runningTask struct {
	sessionID string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Executor spawns and tracks print sessions.
type Executor struct {
	store         *store.ProjectStore
	git           *gitx.Client
	queue         *mergequeue.Service
	project       store.Project
	agentCommand  string
	defaultBranch func(ctx context.Context) string

	mu      sync.Mutex
	running map[string]runningTask // keyed by worktree id
}

// New builds an executor. agentCommand is the agent binary, typically
// "claude".
func New(st *store.ProjectStore, git *gitx.Client, queue *mergequeue.Service,
	project store.Project, agentCommand string, defaultBranch func(ctx context.Context) string) *Executor {
	if agentCommand == "" {
		agentCommand = "claude"
	}
	return &Executor{
		store:         st,
		git:           git,
		queue:         queue,
		project:       project,
		agentCommand:  agentCommand,
		defaultBranch: defaultBranch,
		running:       make(map[string]runningTask),
	}
}

// Running returns the in-flight session for a worktree, if any.
func (e *Executor) Running(worktreeID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.running[worktreeID]
	return t.sessionID, ok
}

// Execute starts a print session for the task in the given worktree. At
// most one task runs per worktree; a second attempt returns
// *TaskRunningError. The session id is returned as soon as the process is
// spawned; completion is handled in the background.
func (e *Executor) Execute(ctx context.Context, w *store.Worktree, task string) (string, error) {
	e.mu.Lock()
	if t, busy := e.running[w.ID]; busy {
		e.mu.Unlock()
		return "", &TaskRunningError{SessionID: t.sessionID, StartedAt: t.startedAt}
	}
	// Reserve the slot before the slow spawn path.
	sessionID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	e.running[w.ID] = runningTask{sessionID: sessionID, startedAt: time.Now(), cancel: cancel}
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		delete(e.running, w.ID)
		e.mu.Unlock()
		cancel()
	}

	if err := worktree.WriteManifests(w.Path, e.project.Path, w.ID); err != nil {
		release()
		return "", fmt.Errorf("write agent manifests: %w", err)
	}

	session := store.PrintSession{
		ID:         sessionID,
		WorktreeID: w.ID,
		ProjectID:  w.ProjectID,
		Task:       task,
		Status:     store.PrintRunning,
		StartedAt:  time.Now(),
	}
	if err := e.store.InsertPrintSession(session); err != nil {
		release()
		return "", err
	}
	// The prompt marker makes the task recoverable from the chunk stream.
	if err := e.store.AppendTerminalOutput(sessionID, PromptMarker(task)); err != nil {
		slog.Warn("append prompt marker", "session", sessionID, "error", err)
	}

	cmd := exec.CommandContext(runCtx, e.agentCommand,
		"-p", taskPreamble+task,
		"--output-format", "stream-json",
		"--verbose",
	)
	cmd.Dir = w.Path
	cmd.Env = append(os.Environ(),
		"WORKTREE_ID="+w.ID,
		"TERM=dumb",
		"NO_COLOR=1",
	)
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return "", err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		release()
		return "", err
	}
	if err := cmd.Start(); err != nil {
		release()
		e.store.FinishPrintSession(sessionID, store.PrintFailed, 1)
		return "", fmt.Errorf("spawn agent: %w", err)
	}

	slog.Info("print session started", "session", sessionID, "worktree", w.ID, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	parser := &Parser{}

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			for _, chunk := range parser.Feed(scanner.Text() + "\n") {
				if err := e.store.AppendTerminalOutput(sessionID, chunk); err != nil {
					slog.Warn("append output chunk", "session", sessionID, "error", err)
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.store.AppendTerminalOutput(sessionID, "[stderr] "+scanner.Text()+"\n")
		}
	}()

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		release()
		if parser.ConversationID != "" {
			if err := e.store.SetPrintSessionConversationID(sessionID, parser.ConversationID); err != nil {
				slog.Warn("record conversation id", "session", sessionID, "error", err)
			}
		}
		e.finish(w, sessionID, exitCode(waitErr))
	}()

	return sessionID, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// finish records the terminal state and, on success with commits, queues
// the branch for merge.
func (e *Executor) finish(w *store.Worktree, sessionID string, code int) {
	status := store.PrintCompleted
	if code != 0 {
		status = store.PrintFailed
	}
	if err := e.store.FinishPrintSession(sessionID, status, code); err != nil {
		slog.Error("finish print session", "session", sessionID, "error", err)
	}
	slog.Info("print session finished", "session", sessionID, "worktree", w.ID, "exit_code", code)
	if code != 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ahead, err := e.git.CommitsAhead(ctx, w.Path, e.defaultBranch(ctx), "HEAD")
	if err != nil {
		slog.Warn("commit probe after task", "worktree", w.ID, "error", err)
		return
	}
	if ahead > 0 {
		if err := e.queue.Enqueue(w.ID, w.Branch, "", true); err != nil {
			slog.Error("enqueue merge", "worktree", w.ID, "error", err)
		}
	}
}

// Cancel kills a running task's process. The exit path records the failed
// status as usual.
func (e *Executor) Cancel(worktreeID string) bool {
	e.mu.Lock()
	t, ok := e.running[worktreeID]
	e.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// RecoverInterrupted reconciles print sessions after a process restart:
// sessions still marked running are flagged interrupted (the process died
// with them), interrupted sessions on archived worktrees become orphaned,
// and interrupted sessions superseded by a newer completed run are marked
// handled. The remaining interrupted sessions are returned as resume
// candidates.
func (e *Executor) RecoverInterrupted(ctx context.Context) ([]store.PrintSession, error) {
	running, err := e.store.ListPrintSessions(store.PrintRunning)
	if err != nil {
		return nil, err
	}
	for _, s := range running {
		code := store.ExitInterrupted
		if w, err := e.store.GetWorktree(s.WorktreeID); err == nil && w.Archived {
			code = store.ExitOrphaned
		}
		if err := e.store.FinishPrintSession(s.ID, store.PrintFailed, code); err != nil {
			slog.Warn("mark interrupted session", "session", s.ID, "error", err)
		}
	}

	failed, err := e.store.ListPrintSessions(store.PrintFailed)
	if err != nil {
		return nil, err
	}
	var candidates []store.PrintSession
	for _, s := range failed {
		if s.ExitCode == nil || *s.ExitCode != store.ExitInterrupted {
			continue
		}
		latest, err := e.store.LatestPrintSessionForWorktree(s.WorktreeID)
		if err == nil && latest.ID != s.ID && latest.Status == store.PrintCompleted {
			if err := e.store.SetPrintSessionExitCode(s.ID, store.ExitInterruptedHandled, store.PrintFailed); err != nil {
				slog.Warn("mark interruption handled", "session", s.ID, "error", err)
			}
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) > 0 {
		slog.Info("interrupted print sessions found", "count", len(candidates))
	}
	return candidates, nil
}
