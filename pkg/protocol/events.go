package protocol

// Unsolicited event frame types pushed by the daemon without a requestId.
const (
	EventTerminalData       = "terminal:data"
	EventTerminalScrollback = "terminal:scrollback"
	EventTerminalExit       = "terminal:exit"
	EventTerminalError      = "terminal:error"

	EventAgentTaskComplete     = "agent:task-complete"
	EventAgentRateLimited      = "agent:rate-limited"
	EventAgentRateLimitCleared = "agent:rate-limit-cleared"
	EventAgentReady            = "agent:ready"
)
