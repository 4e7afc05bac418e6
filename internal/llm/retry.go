package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// UnavailableError indicates that the reasoning backend could not be
// reached after the configured number of attempts. The last underlying
// error is preserved for diagnostics.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("reasoning engine unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// RetryClient wraps a Client with bounded retries, exponential
// backoff, and a per-attempt deadline. Context cancellation is never
// retried.
type RetryClient struct {
	inner   Client
	retries int
	backoff time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewRetryClient wraps client. retries is the number of additional
// attempts after the first failure; backoff is the initial delay,
// doubled after each attempt. timeout caps each individual attempt;
// zero leaves attempts bounded only by the caller's context. The
// underlying HTTP clients do not set their own timeouts, so this is
// the deadline that stops a stalled upstream from holding a session's
// execution lock.
func NewRetryClient(client Client, retries int, backoff, timeout time.Duration, logger *slog.Logger) *RetryClient {
	if logger == nil {
		logger = slog.Default()
	}
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &RetryClient{
		inner:   client,
		retries: retries,
		backoff: backoff,
		timeout: timeout,
		logger:  logger,
	}
}

// Chat sends the request, retrying transient failures. A timed-out
// attempt counts as a transient failure and is retried; only the
// caller's own cancellation ends the loop early.
func (c *RetryClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	delay := c.backoff
	attempts := c.retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.chatOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			break
		}

		c.logger.Warn("chat attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, &UnavailableError{Attempts: attempts, Err: lastErr}
}

func (c *RetryClient) chatOnce(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.inner.Chat(ctx, req)
}

// Ping delegates to the wrapped client without retries.
func (c *RetryClient) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}
