package domain

import (
	"context"
	"strconv"
	"time"
)

// Health view statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthStatus reports gateway liveness with a component breakdown.
type HealthStatus struct {
	Status      string `json:"status"`
	KVConnected bool   `json:"kv_connected"`
	Providers   int    `json:"providers"`
	Timestamp   int64  `json:"timestamp"`
}

// Healthy reports whether the gateway is fully operational.
func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}

// ModelInfo describes one registered model for the models listing.
type ModelInfo struct {
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	PricePerTokenUSD float64 `json:"price_per_token_usd"`
	CostPer1KTokens  float64 `json:"cost_per_1k_tokens"`
}

// CacheStatsView combines the cache's own stats with the orchestrator's
// hit/miss counters.
type CacheStatsView struct {
	TotalEntries int64   `json:"total_entries"`
	TTLSeconds   int64   `json:"ttl_seconds"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	Timestamp    int64   `json:"timestamp"`
}

// AdminSummary aggregates usage and cache statistics.
type AdminSummary struct {
	Costs AdminCosts     `json:"costs"`
	Cache CacheStatsView `json:"cache"`
}

// AdminCosts is the summary's usage section.
type AdminCosts struct {
	Users  map[string]Usage `json:"users"`
	Models map[string]Usage `json:"models"`
}

// AdminService serves read-only aggregations over KV state plus the
// liveness probe.
type AdminService struct {
	store    Store
	registry ProviderRegistry
	limiter  RateLimiter
	cache    ResponseCache
	costs    CostTracker
}

// NewAdminService creates a new admin service (DI constructor).
func NewAdminService(
	store Store,
	registry ProviderRegistry,
	limiter RateLimiter,
	cache ResponseCache,
	costs CostTracker,
) *AdminService {
	return &AdminService{
		store:    store,
		registry: registry,
		limiter:  limiter,
		cache:    cache,
		costs:    costs,
	}
}

// Health reports healthy iff the KV store answers a ping and at least one
// provider binding is configured.
func (a *AdminService) Health(ctx context.Context) HealthStatus {
	kvConnected := a.store.Ping(ctx) == nil
	providers := len(a.registry.List(ctx))

	status := StatusHealthy
	if !kvConnected || providers == 0 {
		status = StatusDegraded
	}

	return HealthStatus{
		Status:      status,
		KVConnected: kvConnected,
		Providers:   providers,
		Timestamp:   time.Now().Unix(),
	}
}

// Models lists all registered bindings with pricing.
func (a *AdminService) Models(ctx context.Context) []ModelInfo {
	bindings := a.registry.List(ctx)

	models := make([]ModelInfo, 0, len(bindings))
	for _, b := range bindings {
		models = append(models, ModelInfo{
			Name:             b.Model,
			Provider:         b.Provider.Name(),
			PricePerTokenUSD: b.PricePerToken,
			CostPer1KTokens:  b.PricePerToken * 1000,
		})
	}
	return models
}

// UsageFor reconstructs a user's accumulated usage.
func (a *AdminService) UsageFor(ctx context.Context, userID string) (Usage, error) {
	return a.costs.UsageFor(ctx, userID)
}

// RateLimitStatus returns a user's remaining quota and reset times.
func (a *AdminService) RateLimitStatus(ctx context.Context, userID string) (RateLimitStatus, error) {
	return a.limiter.Status(ctx, userID)
}

// CacheStats combines entry counts with orchestrator hit/miss ratios.
func (a *AdminService) CacheStats(ctx context.Context) (CacheStatsView, error) {
	stats, err := a.cache.Stats(ctx)
	if err != nil {
		return CacheStatsView{}, err
	}

	hits := a.readStat(ctx, StatsCacheHitsKey)
	misses := a.readStat(ctx, StatsCacheMissesKey)

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return CacheStatsView{
		TotalEntries: stats.TotalEntries,
		TTLSeconds:   stats.TTLSeconds,
		Hits:         hits,
		Misses:       misses,
		HitRate:      hitRate,
		Timestamp:    time.Now().Unix(),
	}, nil
}

// ClearCache deletes all cache entries.
func (a *AdminService) ClearCache(ctx context.Context) (int64, error) {
	return a.cache.Clear(ctx)
}

// Summary aggregates per-user and per-model usage plus cache stats.
func (a *AdminService) Summary(ctx context.Context) (AdminSummary, error) {
	costs, err := a.costs.Summary(ctx)
	if err != nil {
		return AdminSummary{}, err
	}

	cacheStats, err := a.CacheStats(ctx)
	if err != nil {
		return AdminSummary{}, err
	}

	return AdminSummary{
		Costs: AdminCosts{Users: costs.Users, Models: costs.Models},
		Cache: cacheStats,
	}, nil
}

// readStat reads an orchestrator counter, treating absence or outage as zero.
func (a *AdminService) readStat(ctx context.Context, key string) int64 {
	value, err := a.store.Get(ctx, key)
	if err != nil {
		return 0
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return count
}
