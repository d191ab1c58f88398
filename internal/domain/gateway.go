package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashdown/promptgate/internal/observability"
	"github.com/ashdown/promptgate/internal/retry"
)

// Keys of the orchestrator-owned cache hit/miss counters. The cache itself
// stays a pure key-value view.
const (
	StatsCacheHitsKey   = "stats:cache:hits"
	StatsCacheMissesKey = "stats:cache:misses"
)

// GatewayService sequences the request pipeline: cache lookup, rate-limit
// admission, provider resolution, retried dispatch, cost accounting and
// cache insert.
type GatewayService struct {
	registry    ProviderRegistry
	limiter     RateLimiter
	cache       ResponseCache
	costs       CostTracker
	store       Store
	retryPolicy retry.Policy
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(
	registry ProviderRegistry,
	limiter RateLimiter,
	cache ResponseCache,
	costs CostTracker,
	store Store,
	retryPolicy retry.Policy,
) *GatewayService {
	return &GatewayService{
		registry:    registry,
		limiter:     limiter,
		cache:       cache,
		costs:       costs,
		store:       store,
		retryPolicy: retryPolicy,
	}
}

// Generate handles one completion request end to end.
func (g *GatewayService) Generate(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	start := time.Now()

	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := observability.GenerateRequestID()
	ctx = observability.WithRequestID(ctx, requestID)
	ctx = observability.WithUserID(ctx, req.UserID)
	ctx = observability.WithModel(ctx, req.Model)

	logger := observability.FromContext(ctx)
	logger.Info("request_received",
		observability.Int("prompt_chars", len(req.Prompt)),
		observability.Float64("temperature", req.Temperature),
		observability.Int("max_tokens", req.MaxTokens),
	)

	// Cache lookup comes before admission: hits never consume quota.
	cached, err := g.cache.Lookup(ctx, req)
	switch {
	case err == nil:
		g.bumpStat(ctx, StatsCacheHitsKey)
		logger.Info("cache_hit")

		cached.RequestID = requestID
		cached.Cached = true
		cached.LatencyMS = latencyMS(start)
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		g.bumpStat(ctx, StatsCacheMissesKey)
		logger.Info("cache_miss")
	default:
		// An unreachable store behaves like a miss.
		logger.Warn("cache lookup failed, continuing without cache",
			observability.Error(err))
		g.bumpStat(ctx, StatsCacheMissesKey)
	}

	admission, err := g.limiter.Check(ctx, req.UserID)
	if err != nil {
		return nil, g.failed(ctx, fmt.Errorf("rate limit check failed: %w", err))
	}
	if !admission.Allowed {
		return nil, g.failed(ctx, &RateLimitError{
			Window:     admission.Window,
			RetryAfter: admission.RetryAfter,
		})
	}

	binding, err := g.registry.Resolve(ctx, req.Model)
	if err != nil {
		return nil, g.failed(ctx, err)
	}

	ctx = observability.WithProvider(ctx, binding.Provider.Name())
	observability.FromContext(ctx).Info("provider_call",
		observability.String("native_model", binding.NativeModel),
	)

	provReq := &ProviderRequest{
		Model:       binding.NativeModel,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	upstream, err := retry.Do(ctx, g.retryPolicy,
		func(ctx context.Context) (*ProviderResult, error) {
			return binding.Provider.Complete(ctx, provReq)
		},
		IsRetryable,
	)
	if err != nil {
		return nil, g.failed(ctx, err)
	}

	totalTokens := upstream.PromptTokens + upstream.CompletionTokens
	costUSD := g.costs.Compute(binding.PricePerToken, totalTokens)

	result := &CompletionResult{
		Completion:       upstream.Text,
		Model:            req.Model,
		PromptTokens:     upstream.PromptTokens,
		CompletionTokens: upstream.CompletionTokens,
		TotalTokens:      totalTokens,
		CostUSD:          costUSD,
		RequestID:        requestID,
		Cached:           false,
		LatencyMS:        latencyMS(start),
	}

	// Accounting is fire-and-forget on a cancellation-detached context: the
	// caller already has the completion and must not wait on bookkeeping.
	recordCtx := context.WithoutCancel(ctx)
	go g.recordCost(recordCtx, req.UserID, req.Model, upstream, costUSD)

	if storeErr := g.cache.Store(ctx, req, result); storeErr != nil {
		observability.FromContext(ctx).Warn("failed to store in cache",
			observability.Error(storeErr))
	}

	result.LatencyMS = latencyMS(start)
	observability.FromContext(ctx).Info("response_generated",
		observability.Int("total_tokens", totalTokens),
		observability.Float64("cost_usd", costUSD),
		observability.Float64("latency_ms", result.LatencyMS),
	)

	return result, nil
}

func (g *GatewayService) recordCost(
	ctx context.Context,
	userID, model string,
	upstream *ProviderResult,
	costUSD float64,
) {
	err := g.costs.Record(ctx, userID, model, upstream.PromptTokens, upstream.CompletionTokens, costUSD)
	if err != nil {
		return // Record already logged the failure.
	}

	observability.FromContext(ctx).Info("cost_tracked",
		observability.Int("total_tokens", upstream.PromptTokens+upstream.CompletionTokens),
		observability.Float64("cost_usd", costUSD),
	)
}

// bumpStat increments a cache statistics counter, best-effort.
func (g *GatewayService) bumpStat(ctx context.Context, key string) {
	if _, err := g.store.IncrBy(ctx, key, 1); err != nil {
		observability.FromContext(ctx).Warn("failed to update cache stats",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

// failed logs the terminal pipeline failure and passes the error through.
// The HTTP layer is the sole translator to status codes.
func (g *GatewayService) failed(ctx context.Context, err error) error {
	observability.FromContext(ctx).Warn("request_failed",
		observability.Error(err),
	)
	return err
}

func latencyMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
