package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestProject(t *testing.T) *ProjectStore {
	t.Helper()
	s, err := OpenProject(filepath.Join(t.TempDir(), "orchard.db"), "proj-1")
	if err != nil {
		t.Fatalf("open project store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMergeQueue_PopEmpty(t *testing.T) {
	s := openTestProject(t)

	e, err := s.PopMergeQueue()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if e != nil {
		t.Fatalf("expected no entry from empty queue, got %+v", e)
	}
}

func TestMergeQueue_UpsertThenPopOrder(t *testing.T) {
	s := openTestProject(t)

	base := time.Now().Add(-time.Hour)
	for _, e := range []MergeQueueEntry{
		{WorktreeID: "w1", Branch: "feature/a", CompletedAt: base, Summary: "first", HasCommits: true},
		{WorktreeID: "w2", Branch: "feature/b", CompletedAt: base.Add(time.Minute), Summary: "second", HasCommits: true},
	} {
		if err := s.EnqueueMerge(e); err != nil {
			t.Fatalf("enqueue %s: %v", e.WorktreeID, err)
		}
	}

	// Re-enqueueing w1 must not duplicate it, only refresh the row.
	if err := s.EnqueueMerge(MergeQueueEntry{WorktreeID: "w1", Branch: "feature/a", CompletedAt: base, Summary: "first again", HasCommits: true}); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	queue, err := s.GetMergeQueue()
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}

	first, err := s.PopMergeQueue()
	if err != nil {
		t.Fatalf("pop first: %v", err)
	}
	if first == nil || first.WorktreeID != "w1" {
		t.Fatalf("first pop = %+v, want w1", first)
	}
	if first.Summary != "first again" {
		t.Fatalf("summary = %q, want refreshed value", first.Summary)
	}

	second, err := s.PopMergeQueue()
	if err != nil {
		t.Fatalf("pop second: %v", err)
	}
	if second == nil || second.WorktreeID != "w2" {
		t.Fatalf("second pop = %+v, want w2", second)
	}

	third, err := s.PopMergeQueue()
	if err != nil {
		t.Fatalf("pop third: %v", err)
	}
	if third != nil {
		t.Fatalf("third pop = %+v, want nil", third)
	}
}

func TestMergeQueue_MarkMerged(t *testing.T) {
	s := openTestProject(t)

	if err := s.EnqueueMerge(MergeQueueEntry{WorktreeID: "w1", Branch: "feature/a", HasCommits: true}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.MarkMergeEntryMerged("w1"); err != nil {
		t.Fatalf("mark merged: %v", err)
	}
	if err := s.MarkMergeEntryMerged("w1"); !errors.Is(err, ErrAlreadyMerged) {
		t.Fatalf("second mark = %v, want ErrAlreadyMerged", err)
	}
	if err := s.MarkMergeEntryMerged("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown worktree = %v, want ErrNotFound", err)
	}

	// Merged entries drop out of the visible queue.
	queue, err := s.GetMergeQueue()
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("queue length = %d, want 0", len(queue))
	}
}

func TestTerminalOutput_ConcatenationInOrder(t *testing.T) {
	s := openTestProject(t)

	if err := s.InsertPrintSession(PrintSession{
		ID: "ps1", WorktreeID: "w1", ProjectID: "proj-1",
		Task: "do things", Status: PrintRunning, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert print session: %v", err)
	}

	chunks := []string{"hello ", "wor", "ld\n", "done"}
	for _, c := range chunks {
		if err := s.AppendTerminalOutput("ps1", c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	full, err := s.GetFullTerminalOutput("ps1")
	if err != nil {
		t.Fatalf("full output: %v", err)
	}
	if full != "hello world\ndone" {
		t.Fatalf("full output = %q", full)
	}

	// Incremental reads resume exactly where the last chunk id left off.
	head, err := s.GetTerminalOutput("ps1", 0)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if len(head) != len(chunks) {
		t.Fatalf("chunk count = %d, want %d", len(head), len(chunks))
	}
	tail, err := s.GetTerminalOutput("ps1", head[1].ID)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 || tail[0].Chunk != "ld\n" {
		t.Fatalf("tail = %+v", tail)
	}
}

func TestPrintSession_ExitCodes(t *testing.T) {
	s := openTestProject(t)

	if err := s.InsertPrintSession(PrintSession{
		ID: "ps1", WorktreeID: "w1", ProjectID: "proj-1",
		Task: "t", Status: PrintRunning, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.FinishPrintSession("ps1", PrintFailed, ExitInterrupted); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, err := s.GetPrintSession("ps1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExitCode == nil || *got.ExitCode != ExitInterrupted {
		t.Fatalf("exit code = %v, want %d", got.ExitCode, ExitInterrupted)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	if err := s.SetPrintSessionExitCode("ps1", ExitInterruptedHandled, PrintFailed); err != nil {
		t.Fatalf("set exit code: %v", err)
	}
	got, err = s.GetPrintSession("ps1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.ExitCode != ExitInterruptedHandled {
		t.Fatalf("exit code = %d, want %d", *got.ExitCode, ExitInterruptedHandled)
	}
}

func TestPrintSession_ConversationIDRoundTrip(t *testing.T) {
	s := openTestProject(t)

	if err := s.InsertPrintSession(PrintSession{
		ID: "ps1", WorktreeID: "w1", ProjectID: "proj-1",
		Task: "t", Status: PrintRunning, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetPrintSession("ps1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConversationID != "" {
		t.Fatalf("conversation id = %q before the stream reported one", got.ConversationID)
	}

	if err := s.SetPrintSessionConversationID("ps1", "conv-42"); err != nil {
		t.Fatalf("set conversation id: %v", err)
	}
	got, err = s.GetPrintSession("ps1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConversationID != "conv-42" {
		t.Fatalf("conversation id = %q, want conv-42", got.ConversationID)
	}
}

func TestChat_StatusMonotonic(t *testing.T) {
	s := openTestProject(t)

	if err := s.InsertChatMessage(ChatMessage{ID: "m1", ProjectID: "proj-1", Sender: SenderUser, Text: "hi"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, status := range []string{ChatRead, ChatWorking, ChatResolved} {
		if err := s.AdvanceChatStatus("m1", status); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}
	if err := s.AdvanceChatStatus("m1", ChatRead); err == nil {
		t.Fatal("backwards transition accepted")
	}
	// Same-status advance is a no-op, not an error.
	if err := s.AdvanceChatStatus("m1", ChatResolved); err != nil {
		t.Fatalf("idempotent advance: %v", err)
	}
}

func TestChat_UnprocessedInbox(t *testing.T) {
	s := openTestProject(t)

	msgs := []ChatMessage{
		{ID: "m1", ProjectID: "proj-1", Sender: SenderUser, Text: "first", Timestamp: time.Now().Add(-2 * time.Minute)},
		{ID: "m2", ProjectID: "proj-1", Sender: SenderOrchestrator, Text: "ack", Timestamp: time.Now().Add(-time.Minute)},
		{ID: "m3", ProjectID: "proj-1", Sender: SenderUser, Text: "second", Timestamp: time.Now()},
	}
	for _, m := range msgs {
		if err := s.InsertChatMessage(m); err != nil {
			t.Fatalf("insert %s: %v", m.ID, err)
		}
	}
	if err := s.MarkChatProcessed("m1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	inbox, err := s.ListChatMessages(true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(inbox) != 1 || inbox[0].ID != "m3" {
		t.Fatalf("inbox = %+v, want only m3", inbox)
	}
}

func TestAgentSessions_OnePerWorktree(t *testing.T) {
	s := openTestProject(t)

	a := AgentSession{
		ID: "s1", WorktreeID: "w1", ProjectID: "proj-1",
		Command: "claude", Cwd: "/tmp/w1", Status: SessionActive,
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}
	if err := s.InsertAgentSession(a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := a
	dup.ID = "s2"
	if err := s.InsertAgentSession(dup); err == nil {
		t.Fatal("second session for same worktree accepted")
	}

	// Destroy-then-register is the supported path.
	if err := s.DeleteAgentSessionByWorktree("w1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.InsertAgentSession(dup); err != nil {
		t.Fatalf("re-insert after delete: %v", err)
	}
}

func TestAgentSessions_ResumeBumpsCount(t *testing.T) {
	s := openTestProject(t)

	if err := s.InsertAgentSession(AgentSession{
		ID: "s1", WorktreeID: "w1", ProjectID: "proj-1",
		Command: "claude", Cwd: "/tmp/w1", Status: SessionDisconnected,
		CreatedAt: time.Now(), LastActivityAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.ReplaceAgentSessionID("s1", "s1-resumed"); err != nil {
		t.Fatalf("replace id: %v", err)
	}
	got, err := s.GetAgentSessionByWorktree("w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s1-resumed" || got.Status != SessionResumed || got.ResumeCount != 1 {
		t.Fatalf("session after resume = %+v", got)
	}

	if _, err := s.GetAgentSession("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old id lookup = %v, want ErrNotFound", err)
	}
}

func TestWorktrees_UpsertRoundTrip(t *testing.T) {
	s := openTestProject(t)

	w := Worktree{
		ID: "abcd1234-ab12-cd34-ef56-0123456789ab", ProjectID: "proj-1",
		Path: "/repo/.worktrees/feature-a", Branch: "feature/a",
		CreatedAt: time.Now(),
	}
	if err := s.UpsertWorktree(w); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	w.Branch = "feature/a2"
	w.Archived = true
	if err := s.UpsertWorktree(w); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetWorktree(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Branch != "feature/a2" || !got.Archived || got.Mode != WorktreeModeNormal {
		t.Fatalf("worktree = %+v", got)
	}

	all, err := s.ListWorktrees()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("list length = %d, want 1", len(all))
	}
}

func TestPatterns_Retention(t *testing.T) {
	s := openTestProject(t)

	old := DetectedPattern{
		ID: "p-old", Type: PatternError, SessionID: "s1", WorktreeID: "w1",
		ProjectID: "proj-1", Timestamp: time.Now().Add(-48 * time.Hour), Content: "boom",
	}
	fresh := DetectedPattern{
		ID: "p-new", Type: PatternTaskComplete, SessionID: "s1", WorktreeID: "w1",
		ProjectID: "proj-1", Timestamp: time.Now(), Content: "done",
	}
	for _, p := range []DetectedPattern{old, fresh} {
		if err := s.InsertDetectedPattern(p); err != nil {
			t.Fatalf("insert %s: %v", p.ID, err)
		}
	}

	n, err := s.PrunePatterns(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}

	left, err := s.ListUnhandledPatterns(time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ID != "p-new" {
		t.Fatalf("remaining = %+v", left)
	}

	if err := s.MarkPatternHandled("p-new"); err != nil {
		t.Fatalf("mark handled: %v", err)
	}
	left, err = s.ListUnhandledPatterns(time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("handled pattern still listed: %+v", left)
	}
}

func TestRegistry_RegisterRefreshesOpenedAt(t *testing.T) {
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	p := Project{ID: "proj-1", Path: "/repo", Name: "repo", CreatedAt: time.Now().Add(-time.Hour), OpenedAt: time.Now().Add(-time.Hour)}
	if err := r.RegisterProject(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Same path, later open: identity is stable, opened_at moves.
	p2 := p
	p2.OpenedAt = time.Now()
	if err := r.RegisterProject(p2); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	got, err := r.GetProjectByPath("/repo")
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if got.ID != "proj-1" {
		t.Fatalf("project id = %s, want proj-1", got.ID)
	}
	if !got.OpenedAt.After(got.CreatedAt) {
		t.Fatalf("opened_at %v not refreshed past created_at %v", got.OpenedAt, got.CreatedAt)
	}

	all, err := r.ListProjects()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("projects = %d, want 1", len(all))
	}
}
