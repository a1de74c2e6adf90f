// Package mergequeue aggregates completed branches and merges them into
// the project's default branch, one at a time, oldest first.
package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/store"
)

// ErrConflict is returned when git reports a merge conflict. The merge is
// aborted and the queue entry stays put for a human or the orchestrator to
// resolve.
var ErrConflict = errors.New("merge conflict")

// Service operates the per-project merge queue.
type Service struct {
	store   *store.ProjectStore
	git     *gitx.Client
	project store.Project
	// defaultBranch resolves lazily so the queue works before the first
	// git probe.
	defaultBranch func(ctx context.Context) string
}

// New builds the service.
func New(st *store.ProjectStore, git *gitx.Client, project store.Project, defaultBranch func(ctx context.Context) string) *Service {
	return &Service{store: st, git: git, project: project, defaultBranch: defaultBranch}
}

// Enqueue upserts a completed branch. Re-queueing a worktree resets its
// entry.
func (s *Service) Enqueue(worktreeID, branch, summary string, hasCommits bool) error {
	err := s.store.EnqueueMerge(store.MergeQueueEntry{
		WorktreeID:  worktreeID,
		Branch:      branch,
		CompletedAt: time.Now(),
		Summary:     summary,
		HasCommits:  hasCommits,
	})
	if err == nil {
		slog.Info("merge queued", "worktree", worktreeID, "branch", branch)
	}
	return err
}

// Queue returns unmerged entries oldest first.
func (s *Service) Queue() ([]store.MergeQueueEntry, error) {
	return s.store.GetMergeQueue()
}

// Pop atomically removes and returns the oldest unmerged entry, or nil.
func (s *Service) Pop() (*store.MergeQueueEntry, error) {
	return s.store.PopMergeQueue()
}

// MarkMerged flags a queue entry merged. Merging twice returns
// store.ErrAlreadyMerged.
func (s *Service) MarkMerged(worktreeID string) error {
	return s.store.MarkMergeEntryMerged(worktreeID)
}

// Remove drops an entry outright.
func (s *Service) Remove(worktreeID string) error {
	return s.store.RemoveMergeEntry(worktreeID)
}

// Perform merges a branch into the default branch in the main worktree.
// The working tree is checked out to the default branch first; conflicts
// abort the merge and return ErrConflict with git's diagnostic attached.
func (s *Service) Perform(ctx context.Context, branch string) error {
	target := s.defaultBranch(ctx)
	if err := s.git.Checkout(ctx, s.project.Path, target); err != nil {
		return fmt.Errorf("checkout %s: %w", target, err)
	}

	res, err := s.git.Merge(ctx, s.project.Path, branch, fmt.Sprintf("Merge branch '%s'", branch))
	if err != nil {
		return fmt.Errorf("merge %s: %w", branch, err)
	}
	if res.Conflict {
		return fmt.Errorf("%w: %s into %s: %s", ErrConflict, branch, target, res.Output)
	}
	slog.Info("branch merged", "branch", branch, "into", target)
	return nil
}

// Merge performs the merge for a queued worktree and marks the entry
// merged on success. Unknown worktrees return store.ErrNotFound.
func (s *Service) Merge(ctx context.Context, worktreeID string) error {
	entries, err := s.store.GetMergeQueue()
	if err != nil {
		return err
	}
	var entry *store.MergeQueueEntry
	for i := range entries {
		if entries[i].WorktreeID == worktreeID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return store.ErrNotFound
	}

	if err := s.Perform(ctx, entry.Branch); err != nil {
		return err
	}
	return s.store.MarkMergeEntryMerged(worktreeID)
}
