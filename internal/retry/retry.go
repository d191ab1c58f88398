// Package retry wraps fallible operations with bounded exponential backoff
// and jitter. The executor holds no state across calls; classification of
// retryable versus terminal errors belongs to the caller.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ashdown/promptgate/internal/observability"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the production backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Do runs op up to policy.MaxAttempts times. Errors for which retryable
// returns false are returned immediately. Between attempts it sleeps
// min(base * 2^attempt, cap) * (1 + jitter) with jitter drawn uniformly from
// [0, 1). If the scheduled sleep would extend past the context deadline, the
// last error is returned without further waiting. On exhaustion the last
// error is annotated with the attempt count.
func Do[T any](
	ctx context.Context,
	policy Policy,
	op func(context.Context) (T, error),
	retryable func(error) bool,
) (T, error) {
	var zero T
	var lastErr error

	logger := observability.FromContext(ctx)

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy, attempt)

		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			logger.Warn("retry abandoned, deadline too close",
				observability.Int("attempt", attempt+1),
				observability.Duration("delay", delay),
				observability.Error(err),
			)
			return zero, fmt.Errorf("after %d attempts: %w", attempt+1, lastErr)
		}

		logger.Warn("retry_attempt",
			observability.Int("attempt", attempt+1),
			observability.Int("max_attempts", policy.MaxAttempts),
			observability.Duration("delay", delay),
			observability.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("after %d attempts: %w", attempt+1, lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// backoffDelay computes the capped exponential delay with jitter.
func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay << uint(attempt)
	if delay > policy.MaxDelay || delay <= 0 {
		delay = policy.MaxDelay
	}

	jitter := 1 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
