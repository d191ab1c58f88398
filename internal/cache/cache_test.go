package cache_test

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashdown/promptgate/internal/cache"
	"github.com/ashdown/promptgate/internal/domain"
)

// fakeStore is an in-memory domain.Store that counts writes so TTL-refresh
// semantics can be asserted.
type fakeStore struct {
	mu          sync.Mutex
	values      map[string]string
	setCalls    int
	unavailable bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]string), setCalls: 0, unavailable: false}
}

func (f *fakeStore) IncrWithTTL(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) IncrBy(_ context.Context, _ string, _ int64) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return "", domain.ErrStoreUnavailable
	}
	value, ok := f.values[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return value, nil
}

func (f *fakeStore) SetWithTTL(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return domain.ErrStoreUnavailable
	}
	f.values[key] = value
	f.setCalls++
	return nil
}

func (f *fakeStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key := range f.values {
		if ok, _ := path.Match(pattern, key); ok {
			delete(f.values, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.values {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeStore) TTL(_ context.Context, _ string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	return nil
}

func testRequest() *domain.CompletionRequest {
	return &domain.CompletionRequest{
		Prompt:      "hello",
		Model:       "gpt-3.5-turbo",
		Temperature: 0.7,
		MaxTokens:   50,
		UserID:      "u1",
	}
}

func testResult() *domain.CompletionResult {
	return &domain.CompletionResult{
		Completion:       "world",
		Model:            "gpt-3.5-turbo",
		PromptTokens:     1,
		CompletionTokens: 1,
		TotalTokens:      2,
		CostUSD:          0.000004,
		RequestID:        "req-1",
		Cached:           false,
		LatencyMS:        12.5,
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("should be deterministic for identical inputs", func(t *testing.T) {
		require.Equal(t, cache.Fingerprint(testRequest()), cache.Fingerprint(testRequest()))
	})

	t.Run("should be independent of user_id", func(t *testing.T) {
		a := testRequest()
		b := testRequest()
		b.UserID = "someone-else"

		require.Equal(t, cache.Fingerprint(a), cache.Fingerprint(b))
	})

	t.Run("should change when any semantic input changes", func(t *testing.T) {
		base := cache.Fingerprint(testRequest())

		prompt := testRequest()
		prompt.Prompt = "goodbye"
		require.NotEqual(t, base, cache.Fingerprint(prompt))

		model := testRequest()
		model.Model = "gpt-4"
		require.NotEqual(t, base, cache.Fingerprint(model))

		temp := testRequest()
		temp.Temperature = 0.8
		require.NotEqual(t, base, cache.Fingerprint(temp))

		tokens := testRequest()
		tokens.MaxTokens = 51
		require.NotEqual(t, base, cache.Fingerprint(tokens))
	})

	t.Run("should not distinguish temperatures below fixed precision", func(t *testing.T) {
		a := testRequest()
		a.Temperature = 0.7
		b := testRequest()
		b.Temperature = 0.7000001

		require.Equal(t, cache.Fingerprint(a), cache.Fingerprint(b))
	})
}

func TestCache_Lookup(t *testing.T) {
	t.Run("should round-trip a stored result marked cached", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, time.Hour)
		ctx := context.Background()

		require.NoError(t, c.Store(ctx, testRequest(), testResult()))

		got, err := c.Lookup(ctx, testRequest())

		require.NoError(t, err)
		require.True(t, got.Cached)
		require.Equal(t, "world", got.Completion)
		require.Equal(t, 2, got.TotalTokens)
		require.InDelta(t, 0.000004, got.CostUSD, 1e-9)
	})

	t.Run("should return ErrCacheMiss for an unknown fingerprint", func(t *testing.T) {
		c := cache.New(newFakeStore(), time.Hour)

		_, err := c.Lookup(context.Background(), testRequest())

		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("should not rewrite the entry on hit", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, time.Hour)
		ctx := context.Background()

		require.NoError(t, c.Store(ctx, testRequest(), testResult()))
		writesAfterStore := store.setCalls

		_, err := c.Lookup(ctx, testRequest())

		require.NoError(t, err)
		require.Equal(t, writesAfterStore, store.setCalls)
	})

	t.Run("should treat a corrupt entry as a miss", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, time.Hour)
		store.values["cache:"+cache.Fingerprint(testRequest())] = "{not json"

		_, err := c.Lookup(context.Background(), testRequest())

		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("should propagate store outages", func(t *testing.T) {
		store := newFakeStore()
		store.unavailable = true
		c := cache.New(store, time.Hour)

		_, err := c.Lookup(context.Background(), testRequest())

		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestCache_Store(t *testing.T) {
	t.Run("should persist entries with cached false", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, time.Hour)
		ctx := context.Background()

		result := testResult()
		result.Cached = true // Stored entries are normalized to cached=false.
		require.NoError(t, c.Store(ctx, testRequest(), result))

		key := "cache:" + cache.Fingerprint(testRequest())
		require.Contains(t, store.values[key], `"cached":false`)
	})
}

func TestCache_Clear(t *testing.T) {
	t.Run("should delete only cache entries", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, time.Hour)
		ctx := context.Background()

		require.NoError(t, c.Store(ctx, testRequest(), testResult()))
		store.values["usage:u1:requests"] = "3"

		deleted, err := c.Clear(ctx)

		require.NoError(t, err)
		require.Equal(t, int64(1), deleted)
		require.Contains(t, store.values, "usage:u1:requests")
	})
}

func TestCache_Stats(t *testing.T) {
	t.Run("should report entry count and configured TTL", func(t *testing.T) {
		store := newFakeStore()
		c := cache.New(store, 2*time.Hour)
		ctx := context.Background()

		require.NoError(t, c.Store(ctx, testRequest(), testResult()))

		other := testRequest()
		other.Prompt = "another prompt"
		require.NoError(t, c.Store(ctx, other, testResult()))

		stats, err := c.Stats(ctx)

		require.NoError(t, err)
		require.Equal(t, int64(2), stats.TotalEntries)
		require.Equal(t, int64(7200), stats.TTLSeconds)
	})
}
