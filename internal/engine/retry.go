package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig controls Retry. Delay grows linearly: BaseDelay after
// the first failure, 2×BaseDelay after the second, and so on.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
	OnRetry     func(attempt int, err error)
}

// DefaultRetryConfig matches the engine submission policy.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context, attempt int) error

// Retry executes fn up to MaxAttempts times with linear backoff.
// Non-retryable errors abort immediately.
func Retry(ctx context.Context, cfg *RetryConfig, fn RetryFunc) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err)
			}
			delay := time.Duration(attempt) * cfg.BaseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
