package retry

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_Transitions(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: 100 * time.Millisecond, SuccessThreshold: 2})
	b.now = func() time.Time { return now }

	if got := b.State(); got != StateClosed {
		t.Fatalf("initial state = %q, want closed", got)
	}

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %q, want closed", got)
	}
	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %q, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow in open = %v, want ErrCircuitOpen", err)
	}

	// Reset timeout elapses → half-open.
	now = now.Add(120 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after reset timeout = %q, want half-open", got)
	}

	b.RecordSuccess()
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after 1 success = %q, want half-open", got)
	}
	b.RecordSuccess()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 successes = %q, want closed", got)
	}
	if snap := b.Snapshot(); snap.FailureCount != 0 {
		t.Fatalf("failureCount = %d, want 0", snap.FailureCount)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 2})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %q, want half-open", got)
	}
	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after half-open failure = %q, want open", got)
	}
}

func TestBreaker_ClosedSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, SuccessThreshold: 1})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %q, want closed (success reset the streak)", got)
	}
}
