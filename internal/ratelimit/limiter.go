// Package ratelimit enforces per-user request quotas with fixed-window
// counters stored in the shared KV store. Fixed windows accept burst doubling
// at window boundaries in exchange for O(1) state and native TTL semantics.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// WindowMinute and WindowHour name the tracked windows in denials.
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Limiter admits or denies requests against per-minute and per-hour quotas.
type Limiter struct {
	store     domain.Store
	perMinute int64
	perHour   int64
}

// New creates a rate limiter backed by the given store.
func New(store domain.Store, perMinute, perHour int) *Limiter {
	return &Limiter{
		store:     store,
		perMinute: int64(perMinute),
		perHour:   int64(perHour),
	}
}

func windowKey(userID, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s", userID, window)
}

// Check increments both window counters and reports admission. Counters are
// not rolled back on denial; further attempts in the window keep being
// denied. On store outage the limiter fails open: availability of the
// gateway is preferred to strict enforcement.
func (l *Limiter) Check(ctx context.Context, userID string) (domain.Admission, error) {
	minuteCount, err := l.store.IncrWithTTL(ctx, windowKey(userID, WindowMinute), minuteWindow)
	if err != nil {
		return l.failOpen(ctx, err)
	}

	hourCount, err := l.store.IncrWithTTL(ctx, windowKey(userID, WindowHour), hourWindow)
	if err != nil {
		return l.failOpen(ctx, err)
	}

	if minuteCount > l.perMinute {
		return l.deny(ctx, userID, WindowMinute, minuteWindow)
	}
	if hourCount > l.perHour {
		return l.deny(ctx, userID, WindowHour, hourWindow)
	}

	return domain.Admission{Allowed: true}, nil
}

func (l *Limiter) deny(
	ctx context.Context,
	userID, window string,
	windowLength time.Duration,
) (domain.Admission, error) {
	retryAfter := l.retryAfter(ctx, windowKey(userID, window), windowLength)

	observability.FromContext(ctx).Warn("rate_limit_exceeded",
		observability.String("user_id", userID),
		observability.String("window", window),
		observability.Duration("retry_after", retryAfter),
	)

	return domain.Admission{
		Allowed:    false,
		Window:     window,
		RetryAfter: retryAfter,
	}, nil
}

// retryAfter reads the live TTL of the saturated window, clamped to
// [1s, window length].
func (l *Limiter) retryAfter(ctx context.Context, key string, windowLength time.Duration) time.Duration {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return windowLength
	}
	if ttl > windowLength {
		return windowLength
	}
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (l *Limiter) failOpen(ctx context.Context, err error) (domain.Admission, error) {
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		return domain.Admission{Allowed: true}, err
	}

	observability.FromContext(ctx).Warn("rate_limiter_fail_open",
		observability.Error(err),
	)
	return domain.Admission{Allowed: true}, nil
}

// Status returns the user's current window counters without incrementing.
func (l *Limiter) Status(ctx context.Context, userID string) (domain.RateLimitStatus, error) {
	minute, err := l.windowStatus(ctx, userID, WindowMinute, l.perMinute, minuteWindow)
	if err != nil {
		return domain.RateLimitStatus{}, err
	}

	hour, err := l.windowStatus(ctx, userID, WindowHour, l.perHour, hourWindow)
	if err != nil {
		return domain.RateLimitStatus{}, err
	}

	return domain.RateLimitStatus{
		UserID: userID,
		Minute: minute,
		Hour:   hour,
	}, nil
}

func (l *Limiter) windowStatus(
	ctx context.Context,
	userID, window string,
	limit int64,
	windowLength time.Duration,
) (domain.WindowStatus, error) {
	key := windowKey(userID, window)

	var count int64
	value, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		count = 0
	case err != nil:
		return domain.WindowStatus{}, err
	default:
		count, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			return domain.WindowStatus{}, fmt.Errorf("corrupt counter %s: %w", key, err)
		}
	}

	resetSeconds := int64(windowLength.Seconds())
	if ttl, ttlErr := l.store.TTL(ctx, key); ttlErr == nil && ttl > 0 {
		resetSeconds = int64(ttl.Seconds())
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return domain.WindowStatus{
		Requests:     count,
		Limit:        limit,
		Remaining:    remaining,
		ResetSeconds: resetSeconds,
	}, nil
}
