// Package daemonclient is the WebSocket RPC/event plexer for the terminal
// daemon. Requests carry a generated requestId and wait on the matching
// reply; unsolicited frames are fanned out to the event bus and to
// per-session subscribers. The connection self-heals with exponential
// backoff behind a circuit breaker.
package daemonclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/retry"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

// ErrNotConnected is returned when a request is made without a live
// daemon connection.
var ErrNotConnected = errors.New("daemon not connected")

// Bus event names published by the client alongside daemon frames.
const (
	EventDaemonConnected    = "daemon:connected"
	EventDaemonDisconnected = "daemon:disconnected"
)

// Reconnect backoff bounds.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// requestTimeout bounds one RPC round trip.
const requestTimeout = 10 * time.Second

// Client is a reconnecting daemon connection.
type Client struct {
	url     string
	events  *bus.Bus
	breaker *retry.Breaker

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan *protocol.Frame
	// sessionSubs holds the per-session forwarding channels; a session with
	// at least one entry is re-subscribed after every reconnect.
	sessionSubs map[string]map[int]chan *protocol.Frame
	nextSubID   int
	attempt     int

	done   chan struct{}
	closed sync.Once
}

// New starts a client for the daemon at url. The connection is established
// in the background; requests fail with ErrNotConnected until it is up.
func New(url string, events *bus.Bus) *Client {
	c := &Client{
		url:    url,
		events: events,
		breaker: retry.NewBreaker(retry.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			SuccessThreshold: 1,
		}),
		pending:     make(map[string]chan *protocol.Frame),
		sessionSubs: make(map[string]map[int]chan *protocol.Frame),
		done:        make(chan struct{}),
	}
	go c.connectLoop()
	return c
}

// Connected reports whether a daemon connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// BreakerState returns the circuit breaker snapshot for diagnostics.
func (c *Client) BreakerState() retry.Snapshot { return c.breaker.Snapshot() }

// Close shuts the client down permanently.
func (c *Client) Close() {
	c.closed.Do(func() { close(c.done) })
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
}

func (c *Client) connectLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.breaker.Allow(); err != nil {
			// Breaker open: hold off instead of hammering the daemon.
			select {
			case <-time.After(reconnectBase):
			case <-c.done:
				return
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		cancel()
		if err != nil {
			c.breaker.RecordFailure()
			delay := retry.BackoffDelay(c.attempt, reconnectBase, reconnectMax, 2)
			c.attempt++
			slog.Debug("daemon dial failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-c.done:
				return
			}
			continue
		}

		conn.SetReadLimit(1 << 20)
		c.breaker.RecordSuccess()
		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.attempt = 0
		resubscribe := make([]string, 0, len(c.sessionSubs))
		for sessionID, subs := range c.sessionSubs {
			if len(subs) > 0 {
				resubscribe = append(resubscribe, sessionID)
			}
		}
		c.mu.Unlock()

		slog.Info("daemon connected", "url", c.url)
		c.events.Publish(bus.Event{Name: EventDaemonConnected})
		for _, sessionID := range resubscribe {
			c.sendFrame(&protocol.Frame{Type: protocol.MethodTerminalSubscribe, SessionID: sessionID})
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.connected = false
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.mu.Unlock()

		c.breaker.RecordFailure()
		slog.Warn("daemon disconnected", "url", c.url)
		c.events.Publish(bus.Event{Name: EventDaemonDisconnected})
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("undecodable daemon frame", "error", err)
			continue
		}
		c.route(frame)
	}
}

// route sends reply frames to their pending request and fans events out to
// the bus and session subscribers.
func (c *Client) route(f *protocol.Frame) {
	if protocol.IsReply(f.Type) && f.RequestID != "" {
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		if ok {
			delete(c.pending, f.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	c.events.Publish(bus.Event{Name: f.Type, Payload: f})

	sessionID := f.SessionID
	if sessionID == "" && f.RateLimit != nil {
		sessionID = f.RateLimit.SessionID
	}
	if sessionID == "" {
		return
	}
	// Deliver under the lock so a concurrent cancel cannot close a channel
	// between the snapshot and the send.
	c.mu.Lock()
	for _, ch := range c.sessionSubs[sessionID] {
		select {
		case ch <- f:
		default:
			// Slow consumers lose frames rather than stalling the reader.
		}
	}
	c.mu.Unlock()
}

// sendFrame writes one frame without waiting for a reply.
func (c *Client) sendFrame(f *protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// RequestOnce performs a single RPC round trip. It fails fast when the
// connection is down or the breaker is open, and times out after 10s.
func (c *Client) RequestOnce(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	f.RequestID = uuid.NewString()
	ch := make(chan *protocol.Frame, 1)
	c.pending[f.RequestID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}

	if err := c.sendFrame(f); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed during %s", f.Type)
		}
		if reply.Type == protocol.ReplySessionError {
			return nil, errors.New(reply.Error)
		}
		return reply, nil
	case <-timer.C:
		cleanup()
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("request timeout after %s: %s", requestTimeout, f.Type)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// isRetryable classifies transport errors worth retrying. Breaker
// rejections are terminal for the current attempt run.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "circuit breaker") {
		return false
	}
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "not connected") ||
		strings.Contains(msg, "connection")
}

// Request wraps RequestOnce in a bounded retry loop.
func (c *Client) Request(ctx context.Context, f *protocol.Frame) (*protocol.Frame, error) {
	var reply *protocol.Frame
	err := retry.Retry(ctx, retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
		IsRetryable: isRetryable,
		OnRetry: func(attempt int, err error) {
			slog.Debug("daemon request retry", "type", f.Type, "attempt", attempt, "error", err)
		},
	}, func() error {
		var err error
		reply, err = c.RequestOnce(ctx, f)
		return err
	})
	return reply, err
}
