// Package gitx shells out to the git CLI. Every operation goes through one
// runner that disables credential prompts and bounds execution time, so a
// hung remote can never wedge the orchestrator loop.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Client runs git commands against a repository directory.
type Client struct {
	// Timeout bounds a single git invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout bounds local git operations. Merges and worktree adds are
// local-only here, so two minutes is generous.
const DefaultTimeout = 2 * time.Minute

// NewClient returns a client with the default timeout.
func NewClient() *Client {
	return &Client{Timeout: DefaultTimeout}
}

// Result is the captured outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// run executes git with prompting disabled and returns trimmed stdout.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := c.runRaw(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *Client) runRaw(ctx context.Context, dir string, args ...string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=/bin/true")
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := &Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		return res, fmt.Errorf("git %s: %w\n%s", args[0], err, strings.TrimSpace(errBuf.String()))
	}
	return res, nil
}

// IsRepository reports whether dir is inside a git working tree.
func (c *Client) IsRepository(ctx context.Context, dir string) bool {
	out, err := c.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// RepoRoot returns the top-level directory of the working tree.
func (c *Client) RepoRoot(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "rev-parse", "--show-toplevel")
}

// CurrentBranch returns the checked-out branch name, or the literal "HEAD"
// when detached.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// DefaultBranch resolves the repository's default branch. It probes in
// order: origin/HEAD, then a local "main", then a local "master", then
// falls back to whatever branch is currently checked out.
func (c *Client) DefaultBranch(ctx context.Context, dir string) (string, error) {
	if out, err := c.run(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		if name, ok := strings.CutPrefix(out, "refs/remotes/origin/"); ok && name != "" {
			return name, nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, err := c.run(ctx, dir, "rev-parse", "--verify", "refs/heads/"+candidate); err == nil {
			return candidate, nil
		}
	}
	return c.CurrentBranch(ctx, dir)
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(ctx context.Context, dir, branch string) bool {
	_, err := c.run(ctx, dir, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// Checkout switches the working tree to branch.
func (c *Client) Checkout(ctx context.Context, dir, branch string) error {
	_, err := c.run(ctx, dir, "checkout", branch)
	return err
}

// Status is the parsed porcelain v2 summary of a working tree.
type Status struct {
	Branch    string
	Ahead     int
	Behind    int
	Modified  int
	Staged    int
	Untracked int
}

// Status reads `git status --porcelain=v2 --branch` and tallies entries.
// An entry staged and modified counts once in each bucket.
func (c *Client) Status(ctx context.Context, dir string) (*Status, error) {
	out, err := c.run(ctx, dir, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) *Status {
	st := &Status{}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.head "):
			st.Branch = strings.TrimPrefix(line, "# branch.head ")
		case strings.HasPrefix(line, "# branch.ab "):
			// "# branch.ab +1 -2"
			fields := strings.Fields(strings.TrimPrefix(line, "# branch.ab "))
			if len(fields) == 2 {
				st.Ahead, _ = strconv.Atoi(strings.TrimPrefix(fields[0], "+"))
				behind, _ := strconv.Atoi(strings.TrimPrefix(fields[1], "-"))
				st.Behind = behind
			}
		case strings.HasPrefix(line, "1 "), strings.HasPrefix(line, "2 "):
			// XY field: X staged state, Y working-tree state.
			fields := strings.Fields(line)
			if len(fields) < 2 || len(fields[1]) < 2 {
				continue
			}
			xy := fields[1]
			if xy[0] != '.' {
				st.Staged++
			}
			if xy[1] != '.' {
				st.Modified++
			}
		case strings.HasPrefix(line, "? "):
			st.Untracked++
		}
	}
	return st
}

// ChangedFile is one entry from porcelain status with its path.
type ChangedFile struct {
	Path   string
	Staged bool
	// State is "modified", "staged", or "untracked"; staged-and-modified
	// entries report "staged".
	State string
}

// ChangedFiles lists paths touched in the working tree.
func (c *Client) ChangedFiles(ctx context.Context, dir string) ([]ChangedFile, error) {
	out, err := c.run(ctx, dir, "status", "--porcelain=v2")
	if err != nil {
		return nil, err
	}
	var files []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "1 "), strings.HasPrefix(line, "2 "):
			fields := strings.Fields(line)
			if len(fields) < 9 {
				continue
			}
			f := ChangedFile{Path: fields[len(fields)-1]}
			if fields[1][0] != '.' {
				f.Staged = true
				f.State = "staged"
			} else {
				f.State = "modified"
			}
			files = append(files, f)
		case strings.HasPrefix(line, "? "):
			files = append(files, ChangedFile{Path: strings.TrimPrefix(line, "? "), State: "untracked"})
		}
	}
	return files, nil
}

// LastCommitDate returns the committer date of HEAD. Repositories with no
// commits return the zero time and no error.
func (c *Client) LastCommitDate(ctx context.Context, dir string) (time.Time, error) {
	out, err := c.run(ctx, dir, "log", "-1", "--format=%cI")
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits") {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if out == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, out)
}

// FirstUniqueCommitDate returns the committer date of the oldest commit on
// branch that is not reachable from base. Zero time when the branch has no
// unique commits.
func (c *Client) FirstUniqueCommitDate(ctx context.Context, dir, base, branch string) (time.Time, error) {
	out, err := c.run(ctx, dir, "log", base+".."+branch, "--format=%cI", "--reverse")
	if err != nil {
		return time.Time{}, err
	}
	first, _, _ := strings.Cut(out, "\n")
	if first == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, first)
}

// CommitsAhead counts commits reachable from branch but not from base.
func (c *Client) CommitsAhead(ctx context.Context, dir, base, branch string) (int, error) {
	out, err := c.run(ctx, dir, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

// HasCommitsSince reports whether HEAD has moved past the given revision.
func (c *Client) HasCommitsSince(ctx context.Context, dir, rev string) (bool, error) {
	n, err := c.CommitsAhead(ctx, dir, rev, "HEAD")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevParse resolves a revision to a full commit hash.
func (c *Client) RevParse(ctx context.Context, dir, rev string) (string, error) {
	return c.run(ctx, dir, "rev-parse", rev)
}

// IsAncestor reports whether maybeAncestor is an ancestor of rev. A merged
// branch is one whose tip is an ancestor of the default branch.
func (c *Client) IsAncestor(ctx context.Context, dir, maybeAncestor, rev string) (bool, error) {
	res, err := c.runRaw(ctx, dir, "merge-base", "--is-ancestor", maybeAncestor, rev)
	if err != nil {
		// Exit status 1 means "not an ancestor", not a failure.
		if res != nil && res.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WorktreeAdd creates a worktree at path on a new branch cut from base.
func (c *Client) WorktreeAdd(ctx context.Context, repoDir, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := c.run(ctx, repoDir, args...)
	return err
}

// WorktreeRemove removes a worktree registration and its directory.
func (c *Client) WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := c.run(ctx, repoDir, args...)
	return err
}

// WorktreeInfo is one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Head   string
	Branch string
	Main   bool
}

// WorktreeList enumerates the repository's worktrees. The first entry is
// always the main working tree.
func (c *Client) WorktreeList(ctx context.Context, repoDir string) ([]WorktreeInfo, error) {
	out, err := c.run(ctx, repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var (
		list []WorktreeInfo
		cur  *WorktreeInfo
	)
	flush := func() {
		if cur != nil {
			cur.Main = len(list) == 0
			list = append(list, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && cur != nil:
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return list
}

// DeleteBranch removes a local branch. Force skips the merged check.
func (c *Client) DeleteBranch(ctx context.Context, dir, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := c.run(ctx, dir, "branch", flag, branch)
	return err
}

// MergeResult reports the outcome of a merge attempt.
type MergeResult struct {
	Merged   bool
	Conflict bool
	Output   string
}

// Merge runs a no-fast-forward merge of branch into the current branch.
// A conflicting merge is aborted and reported, not returned as an error,
// so the caller can distinguish conflicts from command failures.
func (c *Client) Merge(ctx context.Context, dir, branch, message string) (*MergeResult, error) {
	args := []string{"merge", "--no-ff", branch}
	if message != "" {
		args = append(args, "-m", message)
	}
	res, err := c.runRaw(ctx, dir, args...)
	if err != nil {
		combined := res.Stdout + res.Stderr
		if strings.Contains(combined, "CONFLICT") || strings.Contains(combined, "Automatic merge failed") {
			// Leave the tree clean for the next queue entry.
			_, _ = c.run(ctx, dir, "merge", "--abort")
			return &MergeResult{Conflict: true, Output: strings.TrimSpace(combined)}, nil
		}
		return nil, err
	}
	return &MergeResult{Merged: true, Output: strings.TrimSpace(res.Stdout)}, nil
}
