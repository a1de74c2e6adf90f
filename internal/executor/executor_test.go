package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchard-sh/orchard/internal/store"
)

func newTestExecutor(t *testing.T) (*Executor, *store.ProjectStore) {
	t.Helper()
	st, err := store.OpenProject(filepath.Join(t.TempDir(), "orchard.db"), "proj-1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	project := store.Project{ID: "proj-1", Path: t.TempDir()}
	e := New(st, nil, nil, project, "claude", func(ctx context.Context) string { return "main" })
	return e, st
}

func seedSession(t *testing.T, st *store.ProjectStore, id, worktreeID, status string, startedAt time.Time) {
	t.Helper()
	err := st.InsertPrintSession(store.PrintSession{
		ID: id, WorktreeID: worktreeID, ProjectID: "proj-1",
		Task: "t", Status: status, StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("seed session %s: %v", id, err)
	}
}

func seedWorktree(t *testing.T, st *store.ProjectStore, id string, archived bool) {
	t.Helper()
	err := st.UpsertWorktree(store.Worktree{
		ID: id, ProjectID: "proj-1", Path: "/tmp/" + id, Branch: "feature/" + id,
		Archived: archived, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed worktree %s: %v", id, err)
	}
}

func TestExecute_RejectsSecondTaskPerWorktree(t *testing.T) {
	e, _ := newTestExecutor(t)

	e.mu.Lock()
	e.running["w1"] = runningTask{sessionID: "busy-1", startedAt: time.Now(), cancel: func() {}}
	e.mu.Unlock()

	w := &store.Worktree{ID: "w1", ProjectID: "proj-1", Path: t.TempDir(), Branch: "feature/x"}
	_, err := e.Execute(context.Background(), w, "another task")
	var busy *TaskRunningError
	if !errors.As(err, &busy) {
		t.Fatalf("err = %v, want TaskRunningError", err)
	}
	if busy.SessionID != "busy-1" {
		t.Fatalf("conflict session = %q, want busy-1", busy.SessionID)
	}
}

func TestRecoverInterrupted_MarksRunningSessions(t *testing.T) {
	e, st := newTestExecutor(t)
	seedWorktree(t, st, "w1", false)
	seedSession(t, st, "ps1", "w1", store.PrintRunning, time.Now())

	candidates, err := e.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "ps1" {
		t.Fatalf("candidates = %+v, want ps1", candidates)
	}

	got, err := st.GetPrintSession("ps1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.PrintFailed || got.ExitCode == nil || *got.ExitCode != store.ExitInterrupted {
		t.Fatalf("session = status %s exit %v, want failed/interrupted", got.Status, got.ExitCode)
	}
}

func TestRecoverInterrupted_ArchivedWorktreeOrphans(t *testing.T) {
	e, st := newTestExecutor(t)
	seedWorktree(t, st, "w-gone", true)
	seedSession(t, st, "ps2", "w-gone", store.PrintRunning, time.Now())

	candidates, err := e.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates = %+v, want none for orphaned session", candidates)
	}

	got, _ := st.GetPrintSession("ps2")
	if got.ExitCode == nil || *got.ExitCode != store.ExitOrphaned {
		t.Fatalf("exit code = %v, want orphaned", got.ExitCode)
	}
}

func TestRecoverInterrupted_SupersededByCompletedRun(t *testing.T) {
	e, st := newTestExecutor(t)
	seedWorktree(t, st, "w2", false)

	// An old interrupted run followed by a successful one.
	seedSession(t, st, "ps-old", "w2", store.PrintRunning, time.Now().Add(-time.Hour))
	if err := st.FinishPrintSession("ps-old", store.PrintFailed, store.ExitInterrupted); err != nil {
		t.Fatalf("finish old: %v", err)
	}
	seedSession(t, st, "ps-new", "w2", store.PrintRunning, time.Now())
	if err := st.FinishPrintSession("ps-new", store.PrintCompleted, 0); err != nil {
		t.Fatalf("finish new: %v", err)
	}

	candidates, err := e.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("candidates = %+v, want none when superseded", candidates)
	}

	got, _ := st.GetPrintSession("ps-old")
	if got.ExitCode == nil || *got.ExitCode != store.ExitInterruptedHandled {
		t.Fatalf("exit code = %v, want handled", got.ExitCode)
	}
}

func TestFinish_RecordsFailureOnNonzeroExit(t *testing.T) {
	e, st := newTestExecutor(t)
	seedWorktree(t, st, "w3", false)
	seedSession(t, st, "ps3", "w3", store.PrintRunning, time.Now())

	w := &store.Worktree{ID: "w3", ProjectID: "proj-1", Path: "/tmp/w3", Branch: "feature/w3"}
	e.finish(w, "ps3", 2)

	got, _ := st.GetPrintSession("ps3")
	if got.Status != store.PrintFailed || got.ExitCode == nil || *got.ExitCode != 2 {
		t.Fatalf("session = status %s exit %v, want failed/2", got.Status, got.ExitCode)
	}
}
