package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across components. The HTTP layer is the only place
// these are translated to status codes.
var (
	// ErrCacheMiss indicates no cache entry exists for a fingerprint.
	ErrCacheMiss = errors.New("cache miss")

	// ErrKeyNotFound indicates a KV key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable indicates the KV store is unreachable.
	ErrStoreUnavailable = errors.New("kv store unavailable")

	// ErrUnknownModel indicates no provider binding exists for a model.
	ErrUnknownModel = errors.New("unknown model")
)

// ValidationError reports a request field that failed schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError reports a denied admission with the saturated window and the
// time until that window resets.
type RateLimitError struct {
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window, retry after %s", e.Window, e.RetryAfter)
}

// ProviderError wraps an upstream completion failure with its retry
// classification. StatusCode is zero for transport-level failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an error is worth retrying: transient network
// failures, upstream 5xx, upstream 429 and deadline expiry. Everything else
// is terminal.
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
