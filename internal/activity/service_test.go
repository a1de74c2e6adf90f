package activity

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orchard-sh/orchard/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.ProjectStore) {
	t.Helper()
	st, err := store.OpenProject(filepath.Join(t.TempDir(), "orchard.db"), "proj-1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil), st
}

func TestAction_WrapsWithStartAndComplete(t *testing.T) {
	svc, st := newTestService(t)

	err := svc.Action("corr-1", "CREATE_WORKTREE", map[string]string{"name": "auth"}, func() (any, error) {
		return "w1", nil
	})
	if err != nil {
		t.Fatalf("action: %v", err)
	}

	entries, err := st.ListActivity(store.ActivityFilter{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first.
	if !strings.HasSuffix(entries[0].Summary, "complete") || !strings.HasSuffix(entries[1].Summary, "start") {
		t.Fatalf("summaries = %q, %q", entries[0].Summary, entries[1].Summary)
	}
	if !strings.Contains(entries[0].Details, "durationMs") {
		t.Fatalf("complete details = %s", entries[0].Details)
	}
}

func TestAction_ErrorRecordedAndReturned(t *testing.T) {
	svc, st := newTestService(t)

	boom := errors.New("merge conflict")
	err := svc.Action("corr-2", "MERGE_WORKTREE", nil, func() (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want original", err)
	}

	entries, _ := st.ListActivity(store.ActivityFilter{CorrelationID: "corr-2"})
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Type != store.ActivityError {
		t.Fatalf("latest type = %s, want error", entries[0].Type)
	}
	if !strings.Contains(entries[0].Details, "merge conflict") {
		t.Fatalf("error details = %s", entries[0].Details)
	}
}

func TestLog_FilterByType(t *testing.T) {
	svc, st := newTestService(t)

	svc.Log(store.ActivityTick, store.CategorySystem, "tick", nil, "")
	svc.Log(store.ActivityDecision, store.CategoryOrchestrator, "spawn agent", nil, "corr-3")

	ticks, err := st.ListActivity(store.ActivityFilter{Type: store.ActivityTick})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ticks) != 1 || ticks[0].Summary != "tick" {
		t.Fatalf("ticks = %+v", ticks)
	}
}
