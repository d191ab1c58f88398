// Package kv provides a thin, typed facade over Redis. Components share all
// mutable state through this facade; it owns error translation so callers can
// decide between failing open and failing closed on store outages.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashdown/promptgate/internal/domain"
)

const scanBatchSize = 100

// Redis implements the domain.Store facade over a go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis store from a connection URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// IncrWithTTL atomically increments a counter, attaching the TTL only on the
// first increment so the window boundary stays fixed.
func (r *Redis) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", err)
	}

	if count == 1 && ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, unavailable("expire", err)
		}
	}

	return count, nil
}

// IncrBy atomically increments a counter without expiry.
func (r *Redis) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	count, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, unavailable("incrby", err)
	}
	return count, nil
}

// Get retrieves a string value.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", unavailable("get", err)
	}
	return value, nil
}

// SetWithTTL stores a string value with an expiry.
func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// DeletePattern deletes all keys matching a glob pattern.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := r.Scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable("del", err)
	}
	return deleted, nil
}

// Scan returns all keys matching a glob pattern.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iter := r.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}

	return keys, nil
}

// TTL returns the remaining time to live of a key.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return ttl, nil
}

// Ping probes store reachability.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
