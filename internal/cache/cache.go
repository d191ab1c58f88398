// Package cache deduplicates identical prompts by mapping a deterministic
// fingerprint of the request's semantic inputs to a previously computed
// completion. The cache is shared across users: user_id is not part of the
// fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

// KeyPrefix namespaces cache entries in the KV store.
const KeyPrefix = "cache:"

// Cache is a KV-backed response cache with TTL.
type Cache struct {
	store domain.Store
	ttl   time.Duration
}

// New creates a response cache with the given entry TTL.
func New(store domain.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Fingerprint returns the hex SHA-256 digest identifying a request's semantic
// inputs. Temperature is serialized with fixed precision to avoid float noise.
func Fingerprint(req *domain.CompletionRequest) string {
	input := fmt.Sprintf("%s|%s|%.3f|%d", req.Prompt, req.Model, req.Temperature, req.MaxTokens)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached result for a request, marked cached=true, or
// ErrCacheMiss. The entry's TTL is not refreshed on hit. The stored
// request_id is stale; the orchestrator replaces it.
func (c *Cache) Lookup(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResult, error) {
	key := KeyPrefix + Fingerprint(req)

	value, err := c.store.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var result domain.CompletionResult
	if err := json.Unmarshal([]byte(value), &result); err != nil {
		// A corrupt entry behaves like a miss; the next store overwrites it.
		observability.FromContext(ctx).Warn("discarding corrupt cache entry",
			observability.String("key", key),
			observability.Error(err),
		)
		return nil, domain.ErrCacheMiss
	}

	result.Cached = true
	return &result, nil
}

// Store persists a result under the request's fingerprint. Entries are
// written with cached=false; readers flip the flag on hit.
func (c *Cache) Store(ctx context.Context, req *domain.CompletionRequest, result *domain.CompletionResult) error {
	entry := *result
	entry.Cached = false

	payload, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	key := KeyPrefix + Fingerprint(req)
	if err := c.store.SetWithTTL(ctx, key, string(payload), c.ttl); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// Clear removes every cache entry and returns the number deleted.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	deleted, err := c.store.DeletePattern(ctx, KeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return deleted, nil
}

// Stats reports the entry count and configured TTL. Hit and miss counters
// are maintained by the orchestrator, not the cache.
func (c *Cache) Stats(ctx context.Context) (domain.CacheStats, error) {
	keys, err := c.store.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return domain.CacheStats{}, err
	}

	return domain.CacheStats{
		TotalEntries: int64(len(keys)),
		TTLSeconds:   int64(c.ttl.Seconds()),
	}, nil
}
