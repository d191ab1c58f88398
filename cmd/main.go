package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/ashdown/promptgate/internal/cache"
	"github.com/ashdown/promptgate/internal/config"
	"github.com/ashdown/promptgate/internal/cost"
	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/http"
	"github.com/ashdown/promptgate/internal/http/middleware"
	"github.com/ashdown/promptgate/internal/kv"
	"github.com/ashdown/promptgate/internal/observability"
	"github.com/ashdown/promptgate/internal/provider/anthropic"
	"github.com/ashdown/promptgate/internal/provider/openai"
	"github.com/ashdown/promptgate/internal/provider/registry"
	"github.com/ashdown/promptgate/internal/ratelimit"
	"github.com/ashdown/promptgate/internal/retry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server, logger *zap.Logger) {
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal("server failed to start", zap.Error(err))
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(func(logCfg *config.LogConfig) (*zap.Logger, error) {
		return observability.InitLogger(logCfg.Level)
	}); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// KV Store
	if err := container.Provide(func(redisCfg *config.RedisConfig) (domain.Store, error) {
		return kv.NewRedis(redisCfg.URL)
	}); err != nil {
		log.Fatalf("Failed to provide KV store: %v", err)
	}

	// Rate Limiter
	if err := container.Provide(func(store domain.Store, cfg *config.RateLimitConfig) domain.RateLimiter {
		return ratelimit.New(store, cfg.PerMinute, cfg.PerHour)
	}); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// Response Cache
	if err := container.Provide(func(store domain.Store, cfg *config.CacheConfig) domain.ResponseCache {
		return cache.New(store, time.Duration(cfg.TTLSeconds)*time.Second)
	}); err != nil {
		log.Fatalf("Failed to provide response cache: %v", err)
	}

	// Cost Tracker
	if err := container.Provide(func(store domain.Store) domain.CostTracker {
		return cost.New(store)
	}); err != nil {
		log.Fatalf("Failed to provide cost tracker: %v", err)
	}

	// Retry Policy
	if err := container.Provide(func(cfg *config.RetryConfig) retry.Policy {
		return retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   time.Duration(cfg.BaseDelaySeconds * float64(time.Second)),
			MaxDelay:    time.Duration(cfg.MaxDelaySeconds * float64(time.Second)),
		}
	}); err != nil {
		log.Fatalf("Failed to provide retry policy: %v", err)
	}

	// Provider Registry
	if err := container.Provide(func() domain.ProviderRegistry {
		return registry.NewRegistry()
	}); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// Register provider bindings (invoked for side effects)
	if err := container.Invoke(registerProviders); err != nil {
		log.Fatalf("Failed to register providers: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewGatewayService); err != nil {
		log.Fatalf("Failed to provide gateway service: %v", err)
	}
	if err := container.Provide(domain.NewAdminService); err != nil {
		log.Fatalf("Failed to provide admin service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(func(corsCfg *config.CORSConfig) middleware.Middleware {
		return middleware.BuildMiddlewareChain(corsCfg)
	}); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// registerProviders seeds the registry with the default binding set.
// Providers without an API key are skipped.
func registerProviders(
	reg domain.ProviderRegistry,
	openaiCfg *openai.Config,
	anthropicCfg *anthropic.Config,
	pricing *config.PricingConfig,
) error {
	ctx := context.Background()

	if openaiCfg.APIKey != "" {
		provider, err := openai.NewProvider(*openaiCfg)
		if err != nil {
			return fmt.Errorf("failed to create OpenAI provider: %w", err)
		}

		bindings := []domain.Binding{
			{Model: "gpt-4", PricePerToken: pricing.GPT4, Provider: provider},
			{Model: "gpt-4-turbo", PricePerToken: pricing.GPT4, Provider: provider},
			{Model: "gpt-3.5-turbo", PricePerToken: pricing.GPT35, Provider: provider},
		}
		for _, b := range bindings {
			if err := reg.Register(ctx, b); err != nil {
				return fmt.Errorf("failed to register %s: %w", b.Model, err)
			}
		}
	}

	if anthropicCfg.APIKey != "" {
		provider, err := anthropic.NewProvider(*anthropicCfg)
		if err != nil {
			return fmt.Errorf("failed to create Anthropic provider: %w", err)
		}

		bindings := []domain.Binding{
			{Model: "claude-3-opus", NativeModel: "claude-3-opus-20240229", PricePerToken: pricing.Claude, Provider: provider},
			{Model: "claude-3-sonnet", NativeModel: "claude-3-sonnet-20240229", PricePerToken: pricing.Claude, Provider: provider},
			{Model: "claude-3-haiku", NativeModel: "claude-3-haiku-20240307", PricePerToken: pricing.Claude, Provider: provider},
		}
		for _, b := range bindings {
			if err := reg.Register(ctx, b); err != nil {
				return fmt.Errorf("failed to register %s: %w", b.Model, err)
			}
		}
	}

	return nil
}
