package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/ashdown/promptgate/internal/provider/anthropic"
	"github.com/ashdown/promptgate/internal/provider/openai"
)

// Config represents the gateway configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Retry     RetryConfig
	Pricing   PricingConfig
	Log       LogConfig
	OpenAI    openai.Config
	Anthropic anthropic.Config
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port           int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout    int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout   int `env:"SERVER_WRITE_TIMEOUT" envDefault:"150"`
	RequestTimeout int `env:"REQUEST_TIMEOUT"      envDefault:"120"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// RedisConfig contains KV store connection settings.
type RedisConfig struct {
	URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
}

// RateLimitConfig contains per-user admission quotas.
type RateLimitConfig struct {
	PerMinute int `env:"MAX_REQUESTS_PER_MINUTE" envDefault:"10"`
	PerHour   int `env:"MAX_REQUESTS_PER_HOUR"   envDefault:"100"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	TTLSeconds int `env:"CACHE_TTL_SECONDS" envDefault:"3600"`
}

// RetryConfig contains upstream retry settings.
type RetryConfig struct {
	MaxAttempts      int     `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	BaseDelaySeconds float64 `env:"RETRY_BASE_DELAY"   envDefault:"1"`
	MaxDelaySeconds  float64 `env:"RETRY_MAX_DELAY"    envDefault:"60"`
}

// PricingConfig contains per-token prices in USD by model family.
type PricingConfig struct {
	GPT4   float64 `env:"COST_PER_TOKEN_GPT4"   envDefault:"0.00003"`
	GPT35  float64 `env:"COST_PER_TOKEN_GPT35"  envDefault:"0.000002"`
	Claude float64 `env:"COST_PER_TOKEN_CLAUDE" envDefault:"0.000015"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"INFO"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*RedisConfig
	*RateLimitConfig
	*CacheConfig
	*RetryConfig
	*PricingConfig
	*LogConfig
	OpenAI    *openai.Config
	Anthropic *anthropic.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Redis,
		&cfg.RateLimit,
		&cfg.Cache,
		&cfg.Retry,
		&cfg.Pricing,
		&cfg.Log,
		&cfg.OpenAI,
		&cfg.Anthropic,
	}
}
