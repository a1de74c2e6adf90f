package retry

import (
	"errors"
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// ErrCircuitOpen is returned by Allow when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip open
	ResetTimeout     time.Duration // open → half-open after this long
	SuccessThreshold int           // half-open → closed after this many successes
}

// Breaker is a three-state circuit breaker: closed → open on consecutive
// failures, open → half-open after the reset timeout, half-open → closed
// after enough successes (any failure trips back to open). Safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu              sync.Mutex
	state           string
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// Snapshot is the serialisable breaker state.
type Snapshot struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failureCount"`
	LastFailureTime time.Time `json:"lastFailureTime"`
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// State returns the current state, applying the open → half-open transition
// when the reset timeout has elapsed.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() string {
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.successCount = 0
	}
	return b.state
}

// Allow reports whether a call may proceed. Open state rejects with
// ErrCircuitOpen.
func (b *Breaker) Allow() error {
	if b.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess notes a successful call. In closed state it resets the
// failure counter; in half-open it counts toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure notes a failed call. Enough consecutive failures in closed
// trip the breaker open; any failure in half-open reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureTime = b.now()
	switch b.stateLocked() {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successCount = 0
	}
}

// Snapshot returns the serialisable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.stateLocked(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}
