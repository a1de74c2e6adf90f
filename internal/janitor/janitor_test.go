package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchard-sh/orchard/internal/store"
)

func TestPruneSignals_RemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "task-complete-old.json")
	fresh := filepath.Join(dir, "ready-new.json")
	other := filepath.Join(dir, "README.txt")
	for _, p := range []string{stale, fresh, other} {
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	j := New("", nil, nil, dir)
	if n := j.pruneSignals(); n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale signal survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh signal removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatal("non-signal file removed")
	}
}

func TestSweep_PrunesOldPatterns(t *testing.T) {
	st, err := store.OpenProject(filepath.Join(t.TempDir(), "orchard.db"), "proj-1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	oldPattern := store.DetectedPattern{
		ID: "p-old", Type: store.PatternError, SessionID: "s1", WorktreeID: "w1",
		ProjectID: "proj-1", Timestamp: time.Now().Add(-48 * time.Hour), Content: "boom",
	}
	if err := st.InsertDetectedPattern(oldPattern); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := st.PrunePatterns(time.Now().Add(-patternRetention))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
}
