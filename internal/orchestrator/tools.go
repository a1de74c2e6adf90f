package orchestrator

import "github.com/orchard-sh/orchard/internal/providers"

// Tool names the orchestrator LLM can call.
const (
	ToolCreateWorktree     = "CREATE_WORKTREE"
	ToolSendTask           = "SEND_TASK"
	ToolMergeWorktree      = "MERGE_WORKTREE"
	ToolArchiveWorktree    = "ARCHIVE_WORKTREE"
	ToolSendMessage        = "SEND_MESSAGE"
	ToolNudgeAgent         = "NUDGE_AGENT"
	ToolCheckStatus        = "CHECK_STATUS"
	ToolRespondToQuestion  = "RESPOND_TO_QUESTION"
	ToolLogActivity        = "LOG_ACTIVITY"
	ToolGetPendingMessages = "GET_PENDING_MESSAGES"
)

func obj(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func boolean(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

func tool(name, desc string, params map[string]interface{}) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        name,
			Description: desc,
			Parameters:  params,
		},
	}
}

// toolDefinitions is the fixed tool set offered on every tick.
var toolDefinitions = []providers.ToolDefinition{
	tool(ToolCreateWorktree,
		"Create a new git worktree for a unit of work. Optionally dispatch a task and/or start an interactive agent in it.",
		obj(map[string]interface{}{
			"projectId":  str("Project the worktree belongs to."),
			"name":       str("Short descriptive name; becomes the feature branch."),
			"task":       str("Optional task to run immediately in the new worktree."),
			"startAgent": boolean("Start an interactive agent session in the worktree."),
		}, "projectId", "name")),

	tool(ToolSendTask,
		"Run a one-shot coding task in an existing worktree. Fails if a task is already running there.",
		obj(map[string]interface{}{
			"worktreeId": str("Target worktree."),
			"message":    str("The task description for the coding agent."),
		}, "worktreeId", "message")),

	tool(ToolMergeWorktree,
		"Merge a queued worktree branch into the default branch.",
		obj(map[string]interface{}{
			"projectId":   str("Project the worktree belongs to."),
			"worktreeId":  str("Worktree whose branch should be merged."),
			"squash":      boolean("Squash commits into one (not currently honoured; merges use --no-ff)."),
			"deleteAfter": boolean("Archive and remove the worktree after a successful merge."),
		}, "projectId", "worktreeId")),

	tool(ToolArchiveWorktree,
		"Archive a worktree so it no longer appears in active listings.",
		obj(map[string]interface{}{
			"worktreeId":  str("Worktree to archive."),
			"deleteFiles": boolean("Also remove the worktree directory and branch."),
		}, "worktreeId")),

	tool(ToolSendMessage,
		"Send a chat message to the user. Use replyTo to resolve the question you are answering.",
		obj(map[string]interface{}{
			"projectId": str("Project the message belongs to."),
			"message":   str("Message text shown to the user."),
			"replyTo":   str("Chat message id this answers; it will be marked resolved."),
		}, "projectId", "message")),

	tool(ToolNudgeAgent,
		"Type a message into an interactive agent session. With no message, asks the agent for a status update.",
		obj(map[string]interface{}{
			"worktreeId": str("Worktree whose agent to nudge."),
			"message":    str("Optional text to send instead of the default status prompt."),
		}, "worktreeId")),

	tool(ToolCheckStatus,
		"Report git status for one worktree or all worktrees in the project.",
		obj(map[string]interface{}{
			"projectId":  str("Project to inspect."),
			"worktreeId": str("Optional single worktree to inspect."),
		}, "projectId")),

	tool(ToolRespondToQuestion,
		"Answer a question an interactive agent asked in its terminal.",
		obj(map[string]interface{}{
			"worktreeId": str("Worktree whose agent asked the question."),
			"response":   str("The answer to type into the session."),
		}, "worktreeId", "response")),

	tool(ToolLogActivity,
		"Record a decision or observation in the activity log without taking any action.",
		obj(map[string]interface{}{
			"summary":  str("One-line summary."),
			"category": str("One of: system, orchestrator, agent, worktree, user."),
			"details":  str("Optional free-form detail."),
		}, "summary", "category")),

	tool(ToolGetPendingMessages,
		"List user chat messages that have not been processed yet.",
		obj(map[string]interface{}{})),
}
