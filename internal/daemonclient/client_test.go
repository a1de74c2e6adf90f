package daemonclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orchard-sh/orchard/internal/bus"
	"github.com/orchard-sh/orchard/internal/retry"
	"github.com/orchard-sh/orchard/pkg/protocol"
)

// newTestClient builds a client without the background connect loop.
func newTestClient() *Client {
	return &Client{
		events:      bus.New(),
		breaker:     retry.NewBreaker(retry.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}),
		pending:     make(map[string]chan *protocol.Frame),
		sessionSubs: make(map[string]map[int]chan *protocol.Frame),
		done:        make(chan struct{}),
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("request timeout after 10s: session:create"), true},
		{ErrNotConnected, true},
		{errors.New("connection closed during session:list"), true},
		{retry.ErrCircuitOpen, false},
		{errors.New("session not found: abc"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRoute_ReplyCorrelation(t *testing.T) {
	c := newTestClient()

	ch := make(chan *protocol.Frame, 1)
	c.pending["req-1"] = ch

	c.route(&protocol.Frame{Type: protocol.ReplySessionCreated, RequestID: "req-1"})

	select {
	case reply := <-ch:
		if reply.Type != protocol.ReplySessionCreated {
			t.Fatalf("reply type = %s", reply.Type)
		}
	default:
		t.Fatal("reply not delivered to pending request")
	}
	if _, still := c.pending["req-1"]; still {
		t.Fatal("pending entry not cleared")
	}
}

func TestRoute_EventFanOut(t *testing.T) {
	c := newTestClient()

	events, cancelEvents := c.events.Subscribe(protocol.EventTerminalData)
	defer cancelEvents()

	sub, cancelSub := c.SubscribeTerminal("s1")
	defer cancelSub()

	frame := &protocol.Frame{Type: protocol.EventTerminalData, SessionID: "s1", Data: "hi", Seq: 1}
	c.route(frame)

	select {
	case ev := <-events:
		if ev.Payload.(*protocol.Frame).Data != "hi" {
			t.Fatalf("bus payload = %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("bus never saw the event")
	}
	select {
	case f := <-sub:
		if f.Seq != 1 {
			t.Fatalf("subscriber frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("session subscriber never saw the frame")
	}
}

func TestRoute_RateLimitRoutesBySessionInfo(t *testing.T) {
	c := newTestClient()
	sub, cancel := c.SubscribeTerminal("s9")
	defer cancel()

	c.route(&protocol.Frame{
		Type:      protocol.EventAgentRateLimited,
		RateLimit: &protocol.RateLimitInfo{SessionID: "s9", WorktreeID: "w9"},
	})

	select {
	case f := <-sub:
		if f.Type != protocol.EventAgentRateLimited {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("rate-limit frame not routed by RateLimit.SessionID")
	}
}

func TestRoute_ConcurrentDetach(t *testing.T) {
	c := newTestClient()
	frame := &protocol.Frame{Type: protocol.EventTerminalData, SessionID: "s1", Data: "x", Seq: 1}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			c.route(frame)
		}
	}()

	// Detaching while the reader is routing must never send on the closed
	// subscriber channel.
	for i := 0; i < 2000; i++ {
		ch, cancel := c.SubscribeTerminal("s1")
		cancel()
		for range ch {
		}
	}
	<-done
}

func TestRequestOnce_NotConnected(t *testing.T) {
	c := newTestClient()
	_, err := c.RequestOnce(context.Background(), &protocol.Frame{Type: protocol.MethodSessionList})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestRequestOnce_BreakerOpen(t *testing.T) {
	c := newTestClient()
	c.breaker = retry.NewBreaker(retry.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c.breaker.RecordFailure()

	_, err := c.RequestOnce(context.Background(), &protocol.Frame{Type: protocol.MethodSessionList})
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestWaitForAgentReady(t *testing.T) {
	c := newTestClient()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.WaitForAgentReady(context.Background(), "s1", 2*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	// A ready event for another session must not satisfy the wait.
	c.events.Publish(bus.Event{Name: protocol.EventAgentReady,
		Payload: &protocol.Frame{Type: protocol.EventAgentReady, SessionID: "other"}})
	c.events.Publish(bus.Event{Name: protocol.EventAgentReady,
		Payload: &protocol.Frame{Type: protocol.EventAgentReady, SessionID: "s1"}})

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("wait never returned")
	}
}

func TestWaitForAgentReady_Timeout(t *testing.T) {
	c := newTestClient()
	err := c.WaitForAgentReady(context.Background(), "s1", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
