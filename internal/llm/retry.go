package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrModelUnavailable is returned when every attempt to reach the model failed
var ErrModelUnavailable = errors.New("model unavailable")

// RetryPolicy bounds model call attempts
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// retrySleepFunc waits between attempts (injectable for tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// ExtractWithRetry calls p.Extract until it succeeds or the policy is
// exhausted. onRetry, when set, is told about every failed attempt that
// will be retried. Cancelling ctx stops immediately.
func ExtractWithRetry(ctx context.Context, p Provider, req ExtractRequest, policy RetryPolicy, onRetry func(attempt int, err error)) (*ExtractResponse, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.Extract(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s extract cancelled: %w", p.Name(), ctx.Err())
		}
		if attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}
		if err := retrySleepFunc(ctx, policy.Delay); err != nil {
			return nil, fmt.Errorf("%s extract cancelled: %w", p.Name(), err)
		}
	}

	return nil, fmt.Errorf("%w: %s failed after %d attempts: %w", ErrModelUnavailable, p.Name(), attempts, lastErr)
}
