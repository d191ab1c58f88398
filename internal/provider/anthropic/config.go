package anthropic

// Config contains Anthropic provider configuration. The provider is optional
// and skipped when no API key is set.
type Config struct {
	APIKey  string `env:"ANTHROPIC_API_KEY"`
	BaseURL string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com/v1"`
	Timeout int    `env:"ANTHROPIC_TIMEOUT"  envDefault:"60"`
}
