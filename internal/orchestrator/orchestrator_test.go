package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchard-sh/orchard/internal/activity"
	"github.com/orchard-sh/orchard/internal/config"
	"github.com/orchard-sh/orchard/internal/providers"
	"github.com/orchard-sh/orchard/internal/store"
	"github.com/orchard-sh/orchard/internal/worktree"
)

type fakeProvider struct {
	resp  *providers.ChatResponse
	err   error
	reqs  []providers.ChatRequest
	calls int
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &providers.ChatResponse{FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

type fakeWorktrees struct {
	created   []string
	archived  []string
	deleted   []string
	worktrees map[string]*store.Worktree
}

func (f *fakeWorktrees) List() ([]store.Worktree, error) {
	var out []store.Worktree
	for _, w := range f.worktrees {
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeWorktrees) Get(id string) (*store.Worktree, error) {
	if w, ok := f.worktrees[id]; ok {
		return w, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeWorktrees) Create(_ context.Context, branch string, _ worktree.CreateOptions) (*store.Worktree, error) {
	f.created = append(f.created, branch)
	w := &store.Worktree{ID: "wt-" + branch, Branch: branch}
	if f.worktrees == nil {
		f.worktrees = map[string]*store.Worktree{}
	}
	f.worktrees[w.ID] = w
	return w, nil
}

func (f *fakeWorktrees) Archive(id string) error {
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeWorktrees) Delete(_ context.Context, id string, _ bool) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRunner struct {
	tasks map[string]string // worktree id -> task
	err   error
}

func (f *fakeRunner) Execute(_ context.Context, w *store.Worktree, task string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.tasks == nil {
		f.tasks = map[string]string{}
	}
	f.tasks[w.ID] = task
	return "ps-" + w.ID, nil
}

type fakeMerger struct {
	queue  []store.MergeQueueEntry
	merged []string
	err    error
}

func (f *fakeMerger) Queue() ([]store.MergeQueueEntry, error) { return f.queue, nil }

func (f *fakeMerger) Merge(_ context.Context, worktreeID string) error {
	if f.err != nil {
		return f.err
	}
	f.merged = append(f.merged, worktreeID)
	return nil
}

type fakeSessions struct {
	byWorktree map[string]*store.AgentSession
}

func (f *fakeSessions) Get(worktreeID string) (*store.AgentSession, error) {
	if s, ok := f.byWorktree[worktreeID]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeSessions) Register(_ context.Context, w *store.Worktree, command string) (*store.AgentSession, error) {
	s := &store.AgentSession{ID: "sess-" + w.ID, WorktreeID: w.ID, Command: command}
	if f.byWorktree == nil {
		f.byWorktree = map[string]*store.AgentSession{}
	}
	f.byWorktree[w.ID] = s
	return s, nil
}

type fakeTerminal struct {
	inputs map[string]string
}

func (f *fakeTerminal) Input(sessionID, data string) error {
	if f.inputs == nil {
		f.inputs = map[string]string{}
	}
	f.inputs[sessionID] += data
	return nil
}

type fixture struct {
	orch      *Orchestrator
	provider  *fakeProvider
	worktrees *fakeWorktrees
	runner    *fakeRunner
	merger    *fakeMerger
	sessions  *fakeSessions
	terminal  *fakeTerminal
	store     *store.ProjectStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenProject(filepath.Join(t.TempDir(), "orchard.db"), "proj-1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		provider:  &fakeProvider{},
		worktrees: &fakeWorktrees{worktrees: map[string]*store.Worktree{}},
		runner:    &fakeRunner{},
		merger:    &fakeMerger{},
		sessions:  &fakeSessions{byWorktree: map[string]*store.AgentSession{}},
		terminal:  &fakeTerminal{},
		store:     st,
	}
	cfg := &config.Config{}
	cfg.SetOrchestrator(config.OrchestratorConfig{Enabled: true, Model: "m", AgentCommand: "claude"})
	f.orch = New(cfg, f.provider, st, f.worktrees, f.runner, f.merger, f.sessions, f.terminal, activity.New(st, nil))
	return f
}

func toolCall(name string, args map[string]interface{}) providers.ToolCall {
	return providers.ToolCall{ID: "c1", Name: name, Arguments: args}
}

func TestTick_DispatchesCreateWorktreeWithTask(t *testing.T) {
	f := newFixture(t)
	f.provider.resp = &providers.ChatResponse{
		FinishReason: "tool_calls",
		ToolCalls: []providers.ToolCall{
			toolCall(ToolCreateWorktree, map[string]interface{}{
				"projectId": "proj-1", "name": "Add Auth!", "task": "implement login",
			}),
		},
	}

	if err := f.orch.ManualTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(f.worktrees.created) != 1 || f.worktrees.created[0] != "feature/add-auth-" {
		t.Fatalf("created = %v", f.worktrees.created)
	}
	if f.runner.tasks["wt-feature/add-auth-"] != "implement login" {
		t.Fatalf("tasks = %v", f.runner.tasks)
	}
}

func TestTick_LogsRequestAndResponse(t *testing.T) {
	f := newFixture(t)

	if err := f.orch.ManualTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	reqs, err := f.store.ListActivity(store.ActivityFilter{Type: store.ActivityLLMRequest})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	resps, _ := f.store.ListActivity(store.ActivityFilter{Type: store.ActivityLLMResponse})
	if len(reqs) != 1 || len(resps) != 1 {
		t.Fatalf("llm logs = %d request, %d response, want 1 each", len(reqs), len(resps))
	}
	if reqs[0].CorrelationID == "" || reqs[0].CorrelationID != resps[0].CorrelationID {
		t.Fatalf("correlation ids %q vs %q", reqs[0].CorrelationID, resps[0].CorrelationID)
	}
}

func TestTick_MarksSnapshotChatProcessed(t *testing.T) {
	f := newFixture(t)
	msg := store.ChatMessage{
		ID: "m1", ProjectID: "proj-1", Timestamp: time.Now(),
		Sender: store.SenderUser, Text: "build auth please", Status: store.ChatUnread,
	}
	if err := f.store.InsertChatMessage(msg); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	if err := f.orch.ManualTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	pending, err := f.store.ListChatMessages(true)
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after tick = %d, want 0", len(pending))
	}
}

func TestTick_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.orch.tickMu.Lock()
	defer f.orch.tickMu.Unlock()

	if err := f.orch.tick(context.Background()); !errors.Is(err, errTickInFlight) {
		t.Fatalf("err = %v, want in-flight suppression", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider called %d times during suppressed tick", f.provider.calls)
	}
}

func TestDispatch_MergeWithDeleteAfter(t *testing.T) {
	f := newFixture(t)
	f.worktrees.worktrees["w1"] = &store.Worktree{ID: "w1", Branch: "feature/x"}

	err := f.orch.dispatch(context.Background(), "corr", toolCall(ToolMergeWorktree, map[string]interface{}{
		"projectId": "proj-1", "worktreeId": "w1", "deleteAfter": true,
	}), &snapshot{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.merger.merged) != 1 || f.merger.merged[0] != "w1" {
		t.Fatalf("merged = %v", f.merger.merged)
	}
	if len(f.worktrees.archived) != 1 || len(f.worktrees.deleted) != 1 {
		t.Fatalf("archive/delete = %v / %v", f.worktrees.archived, f.worktrees.deleted)
	}
}

func TestDispatch_MergeConflictSurfaces(t *testing.T) {
	f := newFixture(t)
	conflict := errors.New("merge conflict: feature/x into main")
	f.merger.err = conflict

	err := f.orch.dispatch(context.Background(), "corr", toolCall(ToolMergeWorktree, map[string]interface{}{
		"projectId": "proj-1", "worktreeId": "w1",
	}), &snapshot{})
	if !errors.Is(err, conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	entries, _ := f.store.ListActivity(store.ActivityFilter{Type: store.ActivityError})
	if len(entries) != 1 {
		t.Fatalf("error entries = %d, want 1", len(entries))
	}
}

func TestDispatch_NudgeAgentDefaultsToStatusPrompt(t *testing.T) {
	f := newFixture(t)
	f.sessions.byWorktree["w1"] = &store.AgentSession{ID: "sess-1", WorktreeID: "w1"}

	err := f.orch.dispatch(context.Background(), "corr", toolCall(ToolNudgeAgent, map[string]interface{}{
		"worktreeId": "w1",
	}), &snapshot{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := f.terminal.inputs["sess-1"]
	if got == "" || got[len(got)-1] != '\r' {
		t.Fatalf("input = %q, want CR-terminated prompt", got)
	}
}

func TestDispatch_RespondToQuestionTypesAnswer(t *testing.T) {
	f := newFixture(t)
	f.sessions.byWorktree["w1"] = &store.AgentSession{ID: "sess-1", WorktreeID: "w1"}

	err := f.orch.dispatch(context.Background(), "corr", toolCall(ToolRespondToQuestion, map[string]interface{}{
		"worktreeId": "w1", "response": "use sqlite",
	}), &snapshot{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.terminal.inputs["sess-1"] != "use sqlite\r" {
		t.Fatalf("input = %q", f.terminal.inputs["sess-1"])
	}
}

func TestDispatch_SendMessageResolvesReply(t *testing.T) {
	f := newFixture(t)
	question := store.ChatMessage{
		ID: "q1", ProjectID: "proj-1", Timestamp: time.Now(),
		Sender: store.SenderUser, Text: "which db?", Status: store.ChatWorking,
	}
	if err := f.store.InsertChatMessage(question); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := f.orch.dispatch(context.Background(), "corr", toolCall(ToolSendMessage, map[string]interface{}{
		"projectId": "proj-1", "message": "sqlite", "replyTo": "q1",
	}), &snapshot{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	all, _ := f.store.ListChatMessages(false)
	var reply, orig *store.ChatMessage
	for i := range all {
		switch all[i].ReplyTo {
		case "q1":
			reply = &all[i]
		}
		if all[i].ID == "q1" {
			orig = &all[i]
		}
	}
	if reply == nil || reply.Sender != store.SenderOrchestrator {
		t.Fatalf("reply = %+v", reply)
	}
	if orig.Status != store.ChatResolved {
		t.Fatalf("original status = %s, want resolved", orig.Status)
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"auth", "feature/auth"},
		{"Add Auth", "feature/add-auth"},
		{"fix/bug #42", "feature/fix-bug--42"},
		{"UPPER-case", "feature/upper-case"},
	}
	for _, tc := range tests {
		if got := BranchName(tc.name); got != tc.want {
			t.Errorf("BranchName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestManualTick_RefusesWhenDisabledOrPaused(t *testing.T) {
	f := newFixture(t)

	f.orch.cfg.SetOrchestrator(config.OrchestratorConfig{Enabled: true, Paused: true, Model: "m"})
	if err := f.orch.ManualTick(context.Background()); !errors.Is(err, errOrchestratorIdle) {
		t.Fatalf("paused tick err = %v, want idle refusal", err)
	}

	f.orch.cfg.SetOrchestrator(config.OrchestratorConfig{Enabled: false, Model: "m"})
	if err := f.orch.ManualTick(context.Background()); !errors.Is(err, errOrchestratorIdle) {
		t.Fatalf("disabled tick err = %v, want idle refusal", err)
	}
	if f.provider.calls != 0 {
		t.Fatalf("provider called %d times while idle", f.provider.calls)
	}

	f.orch.cfg.SetOrchestrator(config.OrchestratorConfig{Enabled: true, Model: "m"})
	if err := f.orch.ManualTick(context.Background()); err != nil {
		t.Fatalf("tick after unpause: %v", err)
	}
	if f.provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", f.provider.calls)
	}
}

func TestUpdateConfig_ChangesInterval(t *testing.T) {
	f := newFixture(t)
	f.orch.UpdateConfig(config.OrchestratorConfig{Enabled: true, TickIntervalMS: 250})

	select {
	case d := <-f.orch.interval:
		if d != 250*time.Millisecond {
			t.Fatalf("interval = %v", d)
		}
	default:
		t.Fatal("no interval update queued")
	}
}
