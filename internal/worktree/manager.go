// Package worktree manages the lifecycle of git worktrees: deterministic
// identity, creation with agent manifests, merged detection, and archival.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchard-sh/orchard/internal/gitx"
	"github.com/orchard-sh/orchard/internal/store"
)

// ErrMainWorktree is returned when an operation would destroy the main
// working tree.
var ErrMainWorktree = errors.New("main worktree cannot be removed")

// SessionProber reports whether a worktree currently has a live terminal
// session. Merged detection must not flag a worktree an agent is still
// working in.
type SessionProber interface {
	HasActiveSession(worktreeID string) bool
}

// SessionProberFunc adapts a function to SessionProber.
type SessionProberFunc func(worktreeID string) bool

func (f SessionProberFunc) HasActiveSession(worktreeID string) bool { return f(worktreeID) }

// Manager owns worktree lifecycle for one project.
type Manager struct {
	git      *gitx.Client
	store    *store.ProjectStore
	project  store.Project
	sessions SessionProber
}

// NewManager builds a manager for the given project. sessions may be nil,
// in which case no worktree is treated as having a live session.
func NewManager(git *gitx.Client, st *store.ProjectStore, project store.Project, sessions SessionProber) *Manager {
	if sessions == nil {
		sessions = SessionProberFunc(func(string) bool { return false })
	}
	return &Manager{git: git, store: st, project: project, sessions: sessions}
}

// DefaultBranch resolves the project's default branch, falling back to
// "main" when the repository gives no answer.
func (m *Manager) DefaultBranch(ctx context.Context) string {
	branch, err := m.git.DefaultBranch(ctx, m.project.Path)
	if err != nil || branch == "" || branch == "HEAD" {
		return "main"
	}
	return branch
}

// Load enumerates the repository's worktrees, refreshes their git-derived
// fields, persists the records, and re-syncs stale tool-server manifests.
func (m *Manager) Load(ctx context.Context) ([]store.Worktree, error) {
	infos, err := m.git.WorktreeList(ctx, m.project.Path)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defaultBranch := m.DefaultBranch(ctx)

	var out []store.Worktree
	for _, info := range infos {
		w, err := m.describe(ctx, info, defaultBranch)
		if err != nil {
			slog.Warn("skipping unreadable worktree", "path", info.Path, "error", err)
			continue
		}
		if err := m.store.UpsertWorktree(*w); err != nil {
			return nil, err
		}
		if !w.IsMain {
			m.syncManifest(w)
		}
		out = append(out, *w)
	}
	return out, nil
}

func (m *Manager) describe(ctx context.Context, info gitx.WorktreeInfo, defaultBranch string) (*store.Worktree, error) {
	id := DeterministicID(m.project.ID, info.Path)
	st, err := m.git.Status(ctx, info.Path)
	if err != nil {
		return nil, err
	}

	w := &store.Worktree{
		ID:        id,
		ProjectID: m.project.ID,
		Path:      info.Path,
		Branch:    info.Branch,
		IsMain:    info.Main,
		Status: store.WorktreeStatus{
			Ahead: st.Ahead, Behind: st.Behind,
			Modified: st.Modified, Staged: st.Staged, Untracked: st.Untracked,
		},
	}

	if prev, err := m.store.GetWorktree(id); err == nil {
		w.Archived = prev.Archived
		w.Mode = prev.Mode
		w.CreatedAt = prev.CreatedAt
	}

	w.LastCommitDate, _ = m.git.LastCommitDate(ctx, info.Path)
	if w.CreatedAt.IsZero() {
		w.CreatedAt = m.branchCreatedAt(ctx, info, defaultBranch, w.LastCommitDate)
	}
	w.Merged = m.computeMerged(ctx, w, defaultBranch)
	return w, nil
}

// branchCreatedAt approximates worktree age as the first commit unique to
// its branch, falling back to the last commit date.
func (m *Manager) branchCreatedAt(ctx context.Context, info gitx.WorktreeInfo, defaultBranch string, fallback time.Time) time.Time {
	if info.Branch == "" || info.Branch == defaultBranch {
		return fallback
	}
	if t, err := m.git.FirstUniqueCommitDate(ctx, info.Path, defaultBranch, info.Branch); err == nil && !t.IsZero() {
		return t
	}
	return fallback
}

// computeMerged derives the merged flag. It is true only for a non-main
// worktree with a clean tree, nothing ahead, no live session, and a branch
// tip that is an ancestor of the default branch.
func (m *Manager) computeMerged(ctx context.Context, w *store.Worktree, defaultBranch string) bool {
	if w.IsMain || w.Branch == "" || w.Branch == defaultBranch {
		return false
	}
	if !w.Status.Clean() || w.Status.Ahead != 0 {
		return false
	}
	if m.sessions.HasActiveSession(w.ID) {
		return false
	}
	merged, err := m.git.IsAncestor(ctx, m.project.Path, w.Branch, defaultBranch)
	if err != nil {
		return false
	}
	return merged
}

// syncManifest rewrites .mcp.json only when its recorded id drifted from
// the deterministic one, e.g. after the repository moved on disk.
func (m *Manager) syncManifest(w *store.Worktree) {
	if readManifestWorktreeID(w.Path) == w.ID {
		return
	}
	if err := writeMCPManifest(w.Path, w.ID); err != nil {
		slog.Warn("re-sync tool manifest", "worktree", w.ID, "error", err)
	}
}

// CreateOptions configures Create.
type CreateOptions struct {
	// BaseBranch is the branch the new worktree is cut from. Empty means
	// the project's default branch.
	BaseBranch string
	// Mode is "normal" or "plan".
	Mode string
}

// Create makes a new worktree on a new branch, writes the agent permission
// and tool-server manifests into it, and persists the record.
func (m *Manager) Create(ctx context.Context, branch string, opts CreateOptions) (*store.Worktree, error) {
	path := m.worktreePath(branch)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("worktree path already exists: %s", path)
	}

	base := opts.BaseBranch
	if base == "" {
		base = m.DefaultBranch(ctx)
	}
	if err := m.git.WorktreeAdd(ctx, m.project.Path, path, branch, base); err != nil {
		return nil, fmt.Errorf("git worktree add: %w", err)
	}

	id := DeterministicID(m.project.ID, path)
	if err := writeAgentSettings(path, m.project.Path); err != nil {
		return nil, fmt.Errorf("write agent settings: %w", err)
	}
	if err := writeMCPManifest(path, id); err != nil {
		return nil, fmt.Errorf("write tool manifest: %w", err)
	}

	w := store.Worktree{
		ID:        id,
		ProjectID: m.project.ID,
		Path:      path,
		Branch:    branch,
		Mode:      opts.Mode,
		CreatedAt: time.Now(),
	}
	if err := m.store.UpsertWorktree(w); err != nil {
		return nil, err
	}
	slog.Info("worktree created", "worktree", id, "branch", branch, "path", path)
	return &w, nil
}

// worktreePath places worktrees under <project>/.worktrees with slashes in
// the branch name flattened.
func (m *Manager) worktreePath(branch string) string {
	return filepath.Join(m.project.Path, ".worktrees", strings.ReplaceAll(branch, "/", "-"))
}

// Archive marks a worktree archived. It does not kill sessions; the caller
// owns that ordering.
func (m *Manager) Archive(id string) error {
	if err := m.store.SetWorktreeArchived(id, true); err != nil {
		return err
	}
	if err := m.store.RemoveMergeEntry(id); err != nil {
		slog.Warn("remove merge entry on archive", "worktree", id, "error", err)
	}
	slog.Info("worktree archived", "worktree", id)
	return nil
}

// MarkActive clears the archived flag, returning a worktree to rotation.
func (m *Manager) MarkActive(id string) error {
	return m.store.SetWorktreeArchived(id, false)
}

// Delete removes the worktree from git and from the store. The main
// worktree is rejected.
func (m *Manager) Delete(ctx context.Context, id string, force bool) error {
	w, err := m.store.GetWorktree(id)
	if err != nil {
		return err
	}
	if w.IsMain {
		return ErrMainWorktree
	}
	if err := m.git.WorktreeRemove(ctx, m.project.Path, w.Path, force); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	if err := m.store.DeleteWorktree(id); err != nil {
		return err
	}
	slog.Info("worktree deleted", "worktree", id, "branch", w.Branch)
	return nil
}

// Get returns a persisted worktree record.
func (m *Manager) Get(id string) (*store.Worktree, error) {
	return m.store.GetWorktree(id)
}

// List returns all persisted worktrees for the project.
func (m *Manager) List() ([]store.Worktree, error) {
	return m.store.ListWorktrees()
}
