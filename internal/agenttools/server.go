// Package agenttools is the MCP tool server coding agents connect to over
// stdio. Every worktree's .mcp.json points back at this binary with
// WORKTREE_ID in the env; tool calls land in the project database and as
// signal files the daemon watches.
package agenttools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/orchard-sh/orchard/internal/daemon"
	"github.com/orchard-sh/orchard/internal/store"
)

// Server hosts the agent-facing tools for one worktree.
type Server struct {
	store      *store.ProjectStore
	worktreeID string
	signalsDir string
	version    string
}

// New builds the tool server. worktreeID comes from the WORKTREE_ID env
// the manifest sets.
func New(st *store.ProjectStore, worktreeID, signalsDir, version string) *Server {
	return &Server{store: st, worktreeID: worktreeID, signalsDir: signalsDir, version: version}
}

// Serve runs the stdio MCP server until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	srv := server.NewMCPServer("orchard", s.version,
		server.WithInstructions("Report progress and completion through these tools so the orchestrator can coordinate your worktree with the rest of the fleet."),
	)

	srv.AddTool(mcp.NewTool("report_completion",
		mcp.WithDescription("Report that the assigned task is complete. Call this once, when everything is committed."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("One-paragraph summary of what was done.")),
	), s.reportCompletion)

	srv.AddTool(mcp.NewTool("report_progress",
		mcp.WithDescription("Report a progress milestone on the current task."),
		mcp.WithString("message", mcp.Required(), mcp.Description("Short description of the milestone.")),
	), s.reportProgress)

	srv.AddTool(mcp.NewTool("report_error",
		mcp.WithDescription("Report a blocking error you cannot resolve."),
		mcp.WithString("message", mcp.Required(), mcp.Description("What failed and why.")),
	), s.reportError)

	srv.AddTool(mcp.NewTool("log_activity",
		mcp.WithDescription("Record a noteworthy observation or decision in the project activity log."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("One-line summary.")),
		mcp.WithString("details", mcp.Description("Optional free-form detail.")),
	), s.logActivity)

	srv.AddTool(mcp.NewTool("ask_question",
		mcp.WithDescription("Ask the orchestrator a question when you need a decision to proceed."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, with enough context to answer it.")),
	), s.askQuestion)

	return server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) reportCompletion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.append(store.ActivityEvent, "task complete: "+summary)
	if err := daemon.WriteSignal(s.signalsDir, daemon.Signal{
		Type:       daemon.SignalTaskComplete,
		WorktreeID: s.worktreeID,
	}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("record completion signal: %v", err)), nil
	}
	return mcp.NewToolResultText("completion recorded"), nil
}

func (s *Server) reportProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.append(store.ActivityEvent, message)
	return mcp.NewToolResultText("progress recorded"), nil
}

func (s *Server) reportError(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.append(store.ActivityError, message)
	return mcp.NewToolResultText("error recorded"), nil
}

func (s *Server) logActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.store.AppendActivity(store.ActivityEntry{
		Type:     store.ActivityEvent,
		Category: store.CategoryAgent,
		Summary:  summary,
		Details:  req.GetString("details", ""),
	}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("logged"), nil
}

func (s *Server) askQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Unprocessed so the next orchestrator tick picks it up.
	msg := store.ChatMessage{
		ID:        uuid.NewString(),
		ProjectID: s.store.ProjectID(),
		Timestamp: time.Now(),
		Sender:    store.SenderOrchestrator,
		Text:      fmt.Sprintf("Agent in worktree %s asks: %s", s.worktreeID, question),
		Status:    store.ChatUnread,
	}
	if err := s.store.InsertChatMessage(msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.append(store.ActivityEvent, "agent question: "+question)
	return mcp.NewToolResultText("question forwarded, keep working on what you can in the meantime"), nil
}

func (s *Server) append(entryType, summary string) {
	s.store.AppendActivity(store.ActivityEntry{
		Type:     entryType,
		Category: store.CategoryAgent,
		Summary:  summary,
		Details:  fmt.Sprintf(`{"worktreeId":%q}`, s.worktreeID),
	})
}
