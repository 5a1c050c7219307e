// pkg/graph/retry.go
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how Retry treats failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first.
	MaxAttempts int
	// InitialInterval seeds the exponential backoff between tries.
	InitialInterval time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// means retry only throttling and service-unavailable responses.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches Graph throttling guidance: three attempts,
// exponential backoff from one second, retry only 429 and 503.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second}
}

// Retry runs fn until it succeeds, is cancelled, fails with a
// non-retryable error, or exhausts the attempt budget. A Retry-After
// duration carried on a graph Error overrides the computed backoff.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsThrottled
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.Reset()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt >= attempts {
			return lastErr
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return lastErr
		}
		var ge *Error
		if errors.As(lastErr, &ge) && ge.RetryAfter > 0 {
			wait = ge.RetryAfter
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
