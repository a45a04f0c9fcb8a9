package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := Retry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	retries := 0
	cfg := &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(attempt int, err error) { retries++ },
	}

	err := Retry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad input")
	attempts := 0
	cfg := &RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}

	err := Retry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		attempts++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryLinearBackoff(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	cfg := &RetryConfig{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}

	_ = Retry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		now := time.Now()
		if attempt > 1 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		return errors.New("nope")
	})

	require.Len(t, gaps, 2)
	assert.GreaterOrEqual(t, gaps[0], 20*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[1], 40*time.Millisecond)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 10, BaseDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func(ctx context.Context, attempt int) error {
			return errors.New("transient")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
