package graph

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryPolicy(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryDoesNotRetryNonThrottlingErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryPolicy(), func() error {
		calls++
		return &Error{Status: http.StatusBadRequest, Message: "bad request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesThrottlingUpToAttemptBudget(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return &Error{Status: http.StatusTooManyRequests, Message: "throttled"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryRecoversAfterThrottling(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 3 {
			return &Error{Status: http.StatusServiceUnavailable, Message: "unavailable"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsRetryAfterOverBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialInterval: time.Hour}
	start := time.Now()
	err := Retry(context.Background(), policy, func() error {
		return &Error{
			Status:     http.StatusTooManyRequests,
			Message:    "throttled",
			RetryAfter: 10 * time.Millisecond,
		}
	})
	require.Error(t, err)
	// The hour-long backoff must have been replaced by the server hint.
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Minute}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, policy, func() error {
		calls++
		return &Error{Status: http.StatusTooManyRequests}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryCustomRetryablePredicate(t *testing.T) {
	sentinel := errors.New("transient")
	policy := RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		Retryable:       func(err error) bool { return errors.Is(err, sentinel) },
	}
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}
