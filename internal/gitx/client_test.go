package gitx

import "testing"

func TestParseStatus(t *testing.T) {
	out := "# branch.oid abc123\n" +
		"# branch.head feature/a\n" +
		"# branch.upstream origin/feature/a\n" +
		"# branch.ab +3 -1\n" +
		"1 .M N... 100644 100644 100644 abc abc internal/a.go\n" +
		"1 M. N... 100644 100644 100644 abc abc internal/b.go\n" +
		"1 MM N... 100644 100644 100644 abc abc internal/c.go\n" +
		"? notes.txt\n"

	st := parseStatus(out)
	if st.Branch != "feature/a" {
		t.Errorf("branch = %q", st.Branch)
	}
	if st.Ahead != 3 || st.Behind != 1 {
		t.Errorf("ahead/behind = %d/%d, want 3/1", st.Ahead, st.Behind)
	}
	if st.Staged != 2 {
		t.Errorf("staged = %d, want 2", st.Staged)
	}
	if st.Modified != 2 {
		t.Errorf("modified = %d, want 2", st.Modified)
	}
	if st.Untracked != 1 {
		t.Errorf("untracked = %d, want 1", st.Untracked)
	}
}

func TestParseStatus_CleanTree(t *testing.T) {
	st := parseStatus("# branch.oid abc\n# branch.head main\n")
	if st.Staged != 0 || st.Modified != 0 || st.Untracked != 0 {
		t.Errorf("clean tree parsed as dirty: %+v", st)
	}
	if st.Ahead != 0 || st.Behind != 0 {
		t.Errorf("ahead/behind = %d/%d, want 0/0", st.Ahead, st.Behind)
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\n" +
		"HEAD 1111111111111111111111111111111111111111\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /repo/.worktrees/feature-a\n" +
		"HEAD 2222222222222222222222222222222222222222\n" +
		"branch refs/heads/feature/a\n" +
		"\n" +
		"worktree /repo/.worktrees/detached\n" +
		"HEAD 3333333333333333333333333333333333333333\n" +
		"detached\n"

	list := parseWorktreeList(out)
	if len(list) != 3 {
		t.Fatalf("entries = %d, want 3", len(list))
	}
	if !list[0].Main || list[0].Branch != "main" {
		t.Errorf("main entry = %+v", list[0])
	}
	if list[1].Main || list[1].Branch != "feature/a" || list[1].Path != "/repo/.worktrees/feature-a" {
		t.Errorf("second entry = %+v", list[1])
	}
	if list[2].Branch != "" {
		t.Errorf("detached entry has branch %q", list[2].Branch)
	}
}
