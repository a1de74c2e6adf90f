package bus

import (
	"testing"
	"time"
)

func recvOrFail(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_DeliversToNamedSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("pattern")
	defer cancel()

	b.Publish(Event{Name: "pattern", Payload: 42})
	ev := recvOrFail(t, ch)
	if ev.Payload.(int) != 42 {
		t.Fatalf("payload = %v, want 42", ev.Payload)
	}
}

func TestBus_WildcardSeesEverything(t *testing.T) {
	b := New()
	all, cancel := b.Subscribe("")
	defer cancel()

	b.Publish(Event{Name: "a"})
	b.Publish(Event{Name: "b"})
	if got := recvOrFail(t, all).Name; got != "a" {
		t.Fatalf("first = %q, want a", got)
	}
	if got := recvOrFail(t, all).Name; got != "b" {
		t.Fatalf("second = %q, want b", got)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("x")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Name: "x"})
}

func TestBus_OverflowDropsOldest(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("n")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(Event{Name: "n", Payload: i})
	}
	// Oldest events were dropped; the first receivable one is > 0.
	ev := recvOrFail(t, ch)
	if ev.Payload.(int) == 0 {
		t.Fatal("expected oldest event to be dropped on overflow")
	}
}
