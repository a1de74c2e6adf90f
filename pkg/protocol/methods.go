package protocol

// ProtocolVersion is bumped whenever a frame changes shape incompatibly.
const ProtocolVersion = 1

// Request frame types accepted by the terminal daemon.
const (
	MethodSessionCreate  = "session:create"
	MethodSessionDestroy = "session:destroy"
	MethodSessionList    = "session:list"
	MethodSessionGet     = "session:get"

	MethodTerminalSubscribe   = "terminal:subscribe"
	MethodTerminalUnsubscribe = "terminal:unsubscribe"
	MethodTerminalInput       = "terminal:input"
	MethodTerminalResize      = "terminal:resize"
	MethodTerminalAck         = "terminal:ack"
)

// Reply frame types. Every reply carries the requestId of the request that
// produced it.
const (
	ReplySessionCreated   = "session:created"
	ReplySessionDestroyed = "session:destroyed"
	ReplySessionList      = "session:list"
	ReplySessionInfo      = "session:info"
	ReplySessionError     = "session:error"
)

// IsReply reports whether a frame type belongs to the reply family and is
// routed to a pending request rather than the event bus.
func IsReply(frameType string) bool {
	switch frameType {
	case ReplySessionCreated, ReplySessionDestroyed, ReplySessionList,
		ReplySessionInfo, ReplySessionError:
		return true
	}
	return false
}
