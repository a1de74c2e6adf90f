// Package conflicts derives per-worktree modified-file sets from git status
// and flags files being edited in more than one worktree at once. Nothing
// is persisted; locks are recomputed on demand.
package conflicts

import (
	"context"
	"log/slog"
	"time"

	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/store"
)

// Tracker computes file locks across a project's worktrees.
type Tracker struct {
	git *gitx.Client
}

// New builds a tracker.
func New(git *gitx.Client) *Tracker {
	return &Tracker{git: git}
}

// Overlap is one file touched by two or more worktrees.
type Overlap struct {
	FilePath  string   `json:"filePath"`
	Worktrees []string `json:"worktrees"`
	Branches  []string `json:"branches"`
}

// Locks lists every file touched in non-main, non-archived worktrees.
func (t *Tracker) Locks(ctx context.Context, worktrees []store.Worktree) []store.FileLock {
	var locks []store.FileLock
	for _, w := range worktrees {
		if w.IsMain || w.Archived {
			continue
		}
		files, err := t.git.ChangedFiles(ctx, w.Path)
		if err != nil {
			// A briefly unreadable worktree must not break overlap checks
			// for the rest.
			slog.Warn("read changed files", "worktree", w.ID, "error", err)
			continue
		}
		for _, f := range files {
			locks = append(locks, store.FileLock{
				FilePath:     f.Path,
				WorktreeID:   w.ID,
				Branch:       w.Branch,
				Status:       f.State,
				LastModified: time.Now(),
			})
		}
	}
	return locks
}

// Overlaps groups locks by path and returns files held by two or more
// worktrees.
func (t *Tracker) Overlaps(ctx context.Context, worktrees []store.Worktree) []Overlap {
	return groupOverlaps(t.Locks(ctx, worktrees))
}

// CheckForOverlaps returns the subset of newFiles already locked by another
// worktree, with the holders attached. worktreeID is the prospective
// editor and is excluded from the holder sets.
func (t *Tracker) CheckForOverlaps(ctx context.Context, worktrees []store.Worktree, worktreeID string, newFiles []string) []Overlap {
	held := make(map[string][]store.FileLock)
	for _, l := range t.Locks(ctx, worktrees) {
		if l.WorktreeID != worktreeID {
			held[l.FilePath] = append(held[l.FilePath], l)
		}
	}

	var out []Overlap
	for _, path := range newFiles {
		locks, ok := held[path]
		if !ok {
			continue
		}
		o := Overlap{FilePath: path}
		for _, l := range locks {
			o.Worktrees = append(o.Worktrees, l.WorktreeID)
			o.Branches = append(o.Branches, l.Branch)
		}
		out = append(out, o)
	}
	return out
}

func groupOverlaps(locks []store.FileLock) []Overlap {
	byPath := make(map[string][]store.FileLock)
	var order []string
	for _, l := range locks {
		if _, seen := byPath[l.FilePath]; !seen {
			order = append(order, l.FilePath)
		}
		byPath[l.FilePath] = append(byPath[l.FilePath], l)
	}

	var out []Overlap
	for _, path := range order {
		group := byPath[path]
		worktrees := make(map[string]bool)
		for _, l := range group {
			worktrees[l.WorktreeID] = true
		}
		if len(worktrees) < 2 {
			continue
		}
		o := Overlap{FilePath: path}
		seen := make(map[string]bool)
		for _, l := range group {
			if !seen[l.WorktreeID] {
				seen[l.WorktreeID] = true
				o.Worktrees = append(o.Worktrees, l.WorktreeID)
				o.Branches = append(o.Branches, l.Branch)
			}
		}
		out = append(out, o)
	}
	return out
}
