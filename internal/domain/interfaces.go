package domain

import (
	"context"
	"time"
)

// Store is the typed facade over the distributed key-value store. All
// operations return ErrStoreUnavailable when the store is unreachable;
// callers decide whether to fail open or fail closed.
type Store interface {
	// IncrWithTTL atomically increments a counter, attaching the TTL on the
	// first increment of the key and leaving it untouched afterwards.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrBy atomically increments a counter without expiry.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Get retrieves a string value, returning ErrKeyNotFound for absent keys.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores a string value with an expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// DeletePattern deletes all keys matching a glob pattern and returns the
	// number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	// Scan returns all keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// TTL returns the remaining time to live of a key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping probes store reachability.
	Ping(ctx context.Context) error
}

// Provider represents one upstream LLM completion service.
type Provider interface {
	// Complete sends a completion request and returns the raw result.
	Complete(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)

	// Name returns the provider identifier.
	Name() string
}

// ProviderRegistry resolves public model names to provider bindings.
type ProviderRegistry interface {
	// Register adds a binding to the registry.
	Register(ctx context.Context, binding Binding) error

	// Resolve returns the binding for a model, or ErrUnknownModel.
	Resolve(ctx context.Context, model string) (Binding, error)

	// List returns all registered bindings.
	List(ctx context.Context) []Binding
}

// RateLimiter admits or denies a request for a user.
type RateLimiter interface {
	// Check increments the user's window counters and reports admission.
	Check(ctx context.Context, userID string) (Admission, error)

	// Status returns the user's current window counters without incrementing.
	Status(ctx context.Context, userID string) (RateLimitStatus, error)
}

// Admission is the outcome of a rate-limit check.
type Admission struct {
	Allowed    bool
	Window     string
	RetryAfter time.Duration
}

// WindowStatus describes one rate-limit window for a user.
type WindowStatus struct {
	Requests     int64 `json:"requests"`
	Limit        int64 `json:"limit"`
	Remaining    int64 `json:"remaining"`
	ResetSeconds int64 `json:"reset_seconds"`
}

// RateLimitStatus describes both windows for a user.
type RateLimitStatus struct {
	UserID string       `json:"user_id"`
	Minute WindowStatus `json:"minute"`
	Hour   WindowStatus `json:"hour"`
}

// ResponseCache maps request fingerprints to previously computed completions.
type ResponseCache interface {
	// Lookup returns the cached result for a request, or ErrCacheMiss.
	Lookup(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// Store persists a result under the request's fingerprint.
	Store(ctx context.Context, req *CompletionRequest, result *CompletionResult) error

	// Clear removes every cache entry and returns the number deleted.
	Clear(ctx context.Context) (int64, error)

	// Stats reports the entry count and configured TTL.
	Stats(ctx context.Context) (CacheStats, error)
}

// CacheStats is the cache's own view of its state; hit/miss counters are
// owned by the orchestrator.
type CacheStats struct {
	TotalEntries int64 `json:"total_entries"`
	TTLSeconds   int64 `json:"ttl_seconds"`
}

// CostTracker computes and accumulates token-denominated cost.
type CostTracker interface {
	// Compute returns the cost for a token total at a per-token price,
	// rounded half-to-even to six decimals.
	Compute(pricePerToken float64, totalTokens int) float64

	// Record accumulates per-user and per-model usage. Best-effort.
	Record(ctx context.Context, userID, model string, promptTokens, completionTokens int, costUSD float64) error

	// UsageFor returns the accumulated usage of one user.
	UsageFor(ctx context.Context, userID string) (Usage, error)

	// Summary aggregates usage across all users and models.
	Summary(ctx context.Context) (CostSummary, error)
}

// CostSummary holds per-user and per-model aggregates.
type CostSummary struct {
	Users  map[string]Usage `json:"users"`
	Models map[string]Usage `json:"models"`
}
