package conflicts

import (
	"testing"

	"github.com/orchard-sh/orchard/internal/store"
)

func TestGroupOverlaps(t *testing.T) {
	locks := []store.FileLock{
		{FilePath: "internal/app.go", WorktreeID: "w1", Branch: "feature/a", Status: "modified"},
		{FilePath: "internal/app.go", WorktreeID: "w2", Branch: "feature/b", Status: "staged"},
		{FilePath: "README.md", WorktreeID: "w1", Branch: "feature/a", Status: "modified"},
		// Same file twice in one worktree is not a conflict.
		{FilePath: "go.mod", WorktreeID: "w3", Branch: "feature/c", Status: "modified"},
		{FilePath: "go.mod", WorktreeID: "w3", Branch: "feature/c", Status: "staged"},
	}

	overlaps := groupOverlaps(locks)
	if len(overlaps) != 1 {
		t.Fatalf("overlaps = %+v, want exactly one", overlaps)
	}
	o := overlaps[0]
	if o.FilePath != "internal/app.go" {
		t.Fatalf("overlap path = %s", o.FilePath)
	}
	if len(o.Worktrees) != 2 {
		t.Fatalf("holders = %v", o.Worktrees)
	}
}

func TestGroupOverlaps_Empty(t *testing.T) {
	if got := groupOverlaps(nil); len(got) != 0 {
		t.Fatalf("overlaps of nothing = %+v", got)
	}
}
