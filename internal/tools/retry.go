package tools

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls bounded retries for tool invocation. Retries
// are opt-in per call site: some tools are non-idempotent (sending a
// message) and must never be retried blindly.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // delay before each retry
	Exponential bool          // double the delay after each attempt
}

// InvokeWithRetry invokes the tool, retrying on ExecutionError up to
// the policy's attempt bound. Unknown tools and invalid arguments are
// permanent faults and are never retried.
func (r *Registry) InvokeWithRetry(ctx context.Context, name string, args map[string]any, policy RetryPolicy) (string, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := r.Invoke(ctx, name, args)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			return "", err // permanent: unknown tool, bad arguments
		}
		if attempt == attempts {
			break
		}

		r.logger.Warn("tool attempt failed, retrying",
			"tool", name,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)

		if delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			if policy.Exponential {
				delay *= 2
			}
		}
	}
	return "", lastErr
}
