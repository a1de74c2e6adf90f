// Package retry provides exponential backoff, a retry primitive, and a
// circuit breaker. Daemon RPCs and LLM calls are wrapped with these.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffDelay returns the delay before the given attempt (0-based):
// floor(min(base·multᵃ, max) · (1 + jitter)) with jitter in [-0.2, +0.2].
func BackoffDelay(attempt int, base, max time.Duration, mult float64) time.Duration {
	if mult <= 0 {
		mult = 2
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	jitter := (rand.Float64() * 0.4) - 0.2
	return time.Duration(math.Floor(d * (1 + jitter)))
}

// Policy controls Retry behaviour.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// IsRetryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	IsRetryable func(error) bool

	// OnRetry is called before each sleep with the attempt number (1-based)
	// and the error that caused it.
	OnRetry func(attempt int, err error)
}

// Retry runs fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. It stops early when IsRetryable returns false or the context is
// cancelled, and always surfaces the last error on exhaustion.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}
		delay := BackoffDelay(attempt, p.BaseDelay, p.MaxDelay, p.Multiplier)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
