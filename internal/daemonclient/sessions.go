package daemonclient

import (
	"context"
	"fmt"
	"time"

	"github.com/orchard-sh/orchard/pkg/protocol"
)

// DefaultAgentReadyTimeout bounds WaitForAgentReady.
const DefaultAgentReadyTimeout = 30 * time.Second

// CreateSession asks the daemon for a new PTY session.
func (c *Client) CreateSession(ctx context.Context, worktreeID, projectPath, cwd, initialCommand string) (*protocol.SessionInfo, error) {
	reply, err := c.Request(ctx, &protocol.Frame{
		Type:           protocol.MethodSessionCreate,
		WorktreeID:     worktreeID,
		ProjectPath:    projectPath,
		Cwd:            cwd,
		InitialCommand: initialCommand,
	})
	if err != nil {
		return nil, err
	}
	if reply.Session == nil {
		return nil, fmt.Errorf("session:created reply missing session")
	}
	return reply.Session, nil
}

// DestroySession kills a daemon session.
func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	_, err := c.Request(ctx, &protocol.Frame{
		Type:      protocol.MethodSessionDestroy,
		SessionID: sessionID,
	})
	return err
}

// ListSessions returns the daemon's live sessions.
func (c *Client) ListSessions(ctx context.Context) ([]protocol.SessionInfo, error) {
	reply, err := c.Request(ctx, &protocol.Frame{Type: protocol.MethodSessionList})
	if err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

// GetSession fetches one session's info.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*protocol.SessionInfo, error) {
	reply, err := c.Request(ctx, &protocol.Frame{
		Type:      protocol.MethodSessionGet,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	return reply.Session, nil
}

// Input types data into a session. Fire-and-forget.
func (c *Client) Input(sessionID, data string) error {
	return c.sendFrame(&protocol.Frame{
		Type:      protocol.MethodTerminalInput,
		SessionID: sessionID,
		Data:      data,
	})
}

// Resize changes a session's terminal dimensions. Fire-and-forget.
func (c *Client) Resize(sessionID string, cols, rows int) error {
	return c.sendFrame(&protocol.Frame{
		Type:      protocol.MethodTerminalResize,
		SessionID: sessionID,
		Cols:      cols,
		Rows:      rows,
	})
}

// Ack confirms receipt of count output chunks, releasing daemon-side flow
// control.
func (c *Client) Ack(sessionID string, count int) error {
	return c.sendFrame(&protocol.Frame{
		Type:      protocol.MethodTerminalAck,
		SessionID: sessionID,
		Count:     count,
	})
}

// SubscribeTerminal attaches to a session's output stream. Frames arrive on
// the returned channel; cancel detaches and, when no subscribers remain,
// unsubscribes from the daemon. The subscription survives reconnects.
func (c *Client) SubscribeTerminal(sessionID string) (<-chan *protocol.Frame, func()) {
	ch := make(chan *protocol.Frame, 256)

	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	first := len(c.sessionSubs[sessionID]) == 0
	if c.sessionSubs[sessionID] == nil {
		c.sessionSubs[sessionID] = make(map[int]chan *protocol.Frame)
	}
	c.sessionSubs[sessionID][id] = ch
	c.mu.Unlock()

	if first {
		c.sendFrame(&protocol.Frame{Type: protocol.MethodTerminalSubscribe, SessionID: sessionID})
	}

	cancel := func() {
		c.mu.Lock()
		subs := c.sessionSubs[sessionID]
		if _, ok := subs[id]; !ok {
			c.mu.Unlock()
			return
		}
		delete(subs, id)
		// Closed under the lock; route never sends on a closed channel.
		close(ch)
		last := len(subs) == 0
		if last {
			delete(c.sessionSubs, sessionID)
		}
		c.mu.Unlock()
		if last {
			c.sendFrame(&protocol.Frame{Type: protocol.MethodTerminalUnsubscribe, SessionID: sessionID})
		}
	}
	return ch, cancel
}

// WaitForAgentReady blocks until the daemon announces agent:ready for the
// session, or the timeout elapses. Zero timeout selects the default.
func (c *Client) WaitForAgentReady(ctx context.Context, sessionID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAgentReadyTimeout
	}
	events, cancel := c.events.Subscribe(protocol.EventAgentReady)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			frame, ok := ev.Payload.(*protocol.Frame)
			if ok && frame.SessionID == sessionID {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("agent not ready after %s: session %s", timeout, sessionID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
