package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashdown/promptgate/internal/cache"
	"github.com/ashdown/promptgate/internal/config"
	"github.com/ashdown/promptgate/internal/cost"
	"github.com/ashdown/promptgate/internal/domain"
	api "github.com/ashdown/promptgate/internal/http"
	"github.com/ashdown/promptgate/internal/provider/echo"
	"github.com/ashdown/promptgate/internal/provider/registry"
	"github.com/ashdown/promptgate/internal/ratelimit"
	"github.com/ashdown/promptgate/internal/retry"
)

// fakeStore is an in-memory domain.Store shared by the wired components.
type fakeStore struct {
	mu          sync.Mutex
	values      map[string]string
	ttls        map[string]time.Duration
	unavailable bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, domain.ErrStoreUnavailable
	}
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	f.values[key] = strconv.FormatInt(n, 10)
	if n == 1 {
		f.ttls[key] = ttl
	}
	return n, nil
}

func (f *fakeStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, domain.ErrStoreUnavailable
	}
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n += delta
	f.values[key] = strconv.FormatInt(n, 10)
	return n, nil
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
	return nil
}

func (f *fakeStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, domain.ErrStoreUnavailable
	}
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
	if f.unavailable {
		return nil, domain.ErrStoreUnavailable
	}
	var keys []string
	for key := range f.values {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return 0, domain.ErrStoreUnavailable
	}
	ttl, ok := f.ttls[key]
	if !ok {
		return -1, nil
	}
	return ttl, nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return domain.ErrStoreUnavailable
	}
	return nil
}

// brokenProvider always fails terminally.
type brokenProvider struct{}

func (b *brokenProvider) Complete(_ context.Context, _ *domain.ProviderRequest) (*domain.ProviderResult, error) {
	return nil, &domain.ProviderError{
		Provider:   "broken",
		StatusCode: 401,
		Retryable:  false,
		Err:        errors.New("invalid api key"),
	}
}

func (b *brokenProvider) Name() string { return "broken" }

type testEnv struct {
	store *fakeStore
	mux   *http.ServeMux
}

// newTestEnv wires the full pipeline over an in-memory store with the echo
// provider registered as "echo-1".
func newTestEnv(t *testing.T, perMinute, perHour int) *testEnv {
	t.Helper()

	store := newFakeStore()

	reg := registry.NewRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, domain.Binding{
		Model:         "echo-1",
		PricePerToken: 0.000002,
		Provider:      echo.NewProvider(),
	}))
	require.NoError(t, reg.Register(ctx, domain.Binding{
		Model:         "broken-1",
		PricePerToken: 0.000002,
		Provider:      &brokenProvider{},
	}))

	limiter := ratelimit.New(store, perMinute, perHour)
	respCache := cache.New(store, time.Hour)
	tracker := cost.New(store)
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	gateway := domain.NewGatewayService(reg, limiter, respCache, tracker, store, policy)
	admin := domain.NewAdminService(store, reg, limiter, respCache, tracker)

	handler := api.NewHandler(gateway, admin, &config.ServerConfig{
		Port:           8080,
		ReadTimeout:    30,
		WriteTimeout:   150,
		RequestTimeout: 120,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generate", handler.HandleGenerate)
	mux.HandleFunc("GET /v1/health", handler.HandleHealth)
	mux.HandleFunc("GET /v1/models", handler.HandleModels)
	mux.HandleFunc("GET /v1/usage/{user_id}", handler.HandleUsage)
	mux.HandleFunc("GET /v1/rate-limit/{user_id}", handler.HandleRateLimit)
	mux.HandleFunc("GET /v1/cache/stats", handler.HandleCacheStats)
	mux.HandleFunc("DELETE /v1/cache/clear", handler.HandleCacheClear)
	mux.HandleFunc("GET /v1/admin/summary", handler.HandleSummary)

	return &testEnv{store: store, mux: mux}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func generateBody(prompt, model, userID string) string {
	body, _ := json.Marshal(map[string]any{
		"prompt":  prompt,
		"model":   model,
		"user_id": userID,
	})
	return string(body)
}

func TestHandleGenerate(t *testing.T) {
	t.Run("should return the completion for a valid request", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("hello world!", "echo-1", "u1"))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		body := decodeJSON(t, rec)
		require.Equal(t, "hello world!", body["completion"])
		require.Equal(t, "echo-1", body["model"])
		// 12 chars estimate to 3 tokens per side.
		require.EqualValues(t, 6, body["total_tokens"])
		require.InDelta(t, 0.000012, body["cost_usd"].(float64), 1e-12)
		require.Equal(t, false, body["cached"])
		require.NotEmpty(t, body["request_id"])
	})

	t.Run("should serve a repeated request from cache", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)
		payload := generateBody("cache me", "echo-1", "u1")

		first := env.do(http.MethodPost, "/v1/generate", payload)
		require.Equal(t, http.StatusOK, first.Code)

		second := env.do(http.MethodPost, "/v1/generate", payload)
		require.Equal(t, http.StatusOK, second.Code)

		body := decodeJSON(t, second)
		require.Equal(t, true, body["cached"])
		require.NotEqual(t, decodeJSON(t, first)["request_id"], body["request_id"])
	})

	t.Run("should return 400 for an empty prompt", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("", "echo-1", "u1"))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_input", decodeJSON(t, rec)["error"])
	})

	t.Run("should return 400 for a malformed body", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", "{not json")

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should return 400 for an out of range temperature", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)
		body, _ := json.Marshal(map[string]any{
			"prompt":      "hello",
			"model":       "echo-1",
			"temperature": 3.5,
			"user_id":     "u1",
		})

		rec := env.do(http.MethodPost, "/v1/generate", string(body))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, decodeJSON(t, rec)["message"], "temperature")
	})

	t.Run("should return 404 for an unknown model", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("hello", "gpt-99", "u1"))

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "invalid_model", decodeJSON(t, rec)["error"])
	})

	t.Run("should return 429 with Retry-After when the quota is exhausted", func(t *testing.T) {
		env := newTestEnv(t, 2, 100)

		for i := 0; i < 2; i++ {
			// Distinct prompts so the cache never short-circuits admission.
			rec := env.do(http.MethodPost, "/v1/generate",
				generateBody("prompt "+strconv.Itoa(i), "echo-1", "u1"))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("one too many", "echo-1", "u1"))

		require.Equal(t, http.StatusTooManyRequests, rec.Code)

		retryAfter, err := strconv.ParseInt(rec.Header().Get("Retry-After"), 10, 64)
		require.NoError(t, err)
		require.GreaterOrEqual(t, retryAfter, int64(1))
		require.LessOrEqual(t, retryAfter, int64(60))

		body := decodeJSON(t, rec)
		require.Equal(t, "rate_limit_exceeded", body["error"])
		require.EqualValues(t, retryAfter, body["retry_after_s"])
	})

	t.Run("should return 502 with a generic message on provider failure", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("hello", "broken-1", "u1"))

		require.Equal(t, http.StatusBadGateway, rec.Code)

		body := decodeJSON(t, rec)
		require.Equal(t, "provider_failure", body["error"])
		// Upstream detail must not leak to the client.
		require.NotContains(t, body["message"], "invalid api key")
	})

	t.Run("should still serve completions when the store is down", func(t *testing.T) {
		env := newTestEnv(t, 1, 1)
		env.store.unavailable = true

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("resilient", "echo-1", "u1"))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "resilient", decodeJSON(t, rec)["completion"])
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("should return 200 when healthy", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeJSON(t, rec)
		require.Equal(t, "healthy", body["status"])
		require.Equal(t, true, body["kv_connected"])
		require.EqualValues(t, 2, body["providers"])
	})

	t.Run("should return 503 when the store is unreachable", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)
		env.store.unavailable = true

		rec := env.do(http.MethodGet, "/v1/health", "")

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "degraded", decodeJSON(t, rec)["status"])
	})
}

func TestHandleModels(t *testing.T) {
	t.Run("should list registered models with pricing", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodGet, "/v1/models", "")

		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeJSON(t, rec)
		models := body["models"].([]any)
		require.Len(t, models, 2)

		first := models[0].(map[string]any)
		require.Equal(t, "broken-1", first["name"])
		require.InDelta(t, 0.002, first["cost_per_1k_tokens"].(float64), 1e-9)
	})
}

func TestHandleUsage(t *testing.T) {
	t.Run("should return zeroed usage for an unseen user", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodGet, "/v1/usage/nobody", "")

		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeJSON(t, rec)
		require.Equal(t, "nobody", body["user_id"])
		require.EqualValues(t, 0, body["requests"])
		require.EqualValues(t, 0, body["tokens"])
	})

	t.Run("should return accumulated usage after traffic", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("count me", "echo-1", "u1"))
		require.Equal(t, http.StatusOK, rec.Code)

		// Accounting is asynchronous.
		require.Eventually(t, func() bool {
			usage := decodeJSON(t, env.do(http.MethodGet, "/v1/usage/u1", ""))
			requests, ok := usage["requests"].(float64)
			return ok && requests == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestHandleRateLimit(t *testing.T) {
	t.Run("should report remaining quota", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("use quota", "echo-1", "u1"))
		require.Equal(t, http.StatusOK, rec.Code)

		status := env.do(http.MethodGet, "/v1/rate-limit/u1", "")
		require.Equal(t, http.StatusOK, status.Code)

		body := decodeJSON(t, status)
		require.Equal(t, "u1", body["user_id"])

		minute := body["minute"].(map[string]any)
		require.EqualValues(t, 1, minute["requests"])
		require.EqualValues(t, 10, minute["limit"])
		require.EqualValues(t, 9, minute["remaining"])
	})
}

func TestHandleCache(t *testing.T) {
	t.Run("should report stats and clear entries", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("cache this", "echo-1", "u1"))
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.do(http.MethodPost, "/v1/generate", generateBody("cache this", "echo-1", "u1"))
		require.Equal(t, http.StatusOK, rec.Code)

		stats := decodeJSON(t, env.do(http.MethodGet, "/v1/cache/stats", ""))
		require.EqualValues(t, 1, stats["total_entries"])
		require.EqualValues(t, 1, stats["hits"])
		require.EqualValues(t, 1, stats["misses"])
		require.InDelta(t, 0.5, stats["hit_rate"].(float64), 1e-9)

		cleared := env.do(http.MethodDelete, "/v1/cache/clear", "")
		require.Equal(t, http.StatusOK, cleared.Code)
		require.EqualValues(t, 1, decodeJSON(t, cleared)["deleted_count"])

		after := decodeJSON(t, env.do(http.MethodGet, "/v1/cache/stats", ""))
		require.EqualValues(t, 0, after["total_entries"])
	})
}

func TestHandleSummary(t *testing.T) {
	t.Run("should aggregate usage and cache sections", func(t *testing.T) {
		env := newTestEnv(t, 10, 100)

		rec := env.do(http.MethodPost, "/v1/generate", generateBody("summarize", "echo-1", "u1"))
		require.Equal(t, http.StatusOK, rec.Code)

		require.Eventually(t, func() bool {
			body := decodeJSON(t, env.do(http.MethodGet, "/v1/admin/summary", ""))
			costs, ok := body["costs"].(map[string]any)
			if !ok {
				return false
			}
			users, ok := costs["users"].(map[string]any)
			return ok && len(users) == 1
		}, time.Second, 5*time.Millisecond)

		body := decodeJSON(t, env.do(http.MethodGet, "/v1/admin/summary", ""))
		cacheSection := body["cache"].(map[string]any)
		require.EqualValues(t, 1, cacheSection["total_entries"])
	})
}
