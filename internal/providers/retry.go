package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/orchard-sh/orchard/internal/retry"
)

// HTTPError is a non-2xx provider response. Status drives retry decisions;
// RetryAfter, when the provider sends it, overrides the backoff delay.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// RetryConfig bounds provider call retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries transient failures a few times with capped
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// RetryDo runs call with the retry policy. Rate limits (429) and server
// errors (5xx) are retried, as are transport errors; other HTTP statuses
// fail immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, call func() (T, error)) (T, error) {
	var result T
	err := retry.Retry(ctx, retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		IsRetryable: isRetryableProviderError,
		OnRetry: func(attempt int, err error) {
			slog.Warn("provider call retrying", "attempt", attempt, "error", err)
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
				// The provider told us when to come back; honour it on top
				// of the backoff sleep.
				select {
				case <-ctx.Done():
				case <-time.After(httpErr.RetryAfter):
				}
			}
		},
	}, func() error {
		var callErr error
		result, callErr = call()
		return callErr
	})
	return result, err
}

func isRetryableProviderError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	// Non-HTTP errors are transport failures; worth another attempt.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ParseRetryAfter parses a Retry-After header value given in seconds.
// HTTP-date values and garbage yield zero.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
