package pipeline

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy wraps a fallible operation with bounded attempts and
// exponential backoff. Every provider call site that retries does it through
// this one abstraction.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is worth another attempt. When nil
	// every error except a safety block is retried; safety blocks are
	// non-retryable unconditionally.
	Retryable func(error) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy with the given bounds.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
	}
}

// Do invokes op up to MaxAttempts times, waiting BaseDelay * 2^attempt
// between failures (attempt starting at 0). The last error, wrapped in
// ErrRetryExhausted, is returned when the budget runs out. Safety blocks
// short-circuit immediately.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay * (1 << (attempt - 1))
			if err := p.wait(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !p.retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%w after %d attempts: %s", ErrRetryExhausted, maxAttempts, lastErr)
}

func (p RetryPolicy) retryable(err error) bool {
	if IsSafetyBlocked(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
