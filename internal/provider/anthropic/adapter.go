// Package anthropic provides a provider binding for the Anthropic Messages
// API over a hand-rolled HTTP client. Token counts reported by the API are
// used when present; otherwise both sides are estimated by the len/4
// convention.
package anthropic

import (
	"context"
	"errors"
	"net/http"

	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

const providerName = "anthropic"

// Provider implements the domain.Provider interface for Anthropic.
type Provider struct {
	client *Client
	name   string
}

// NewProvider creates a new Anthropic provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &Provider{
		client: NewClient(config),
		name:   providerName,
	}, nil
}

// Complete sends a completion request and returns the raw result.
func (p *Provider) Complete(ctx context.Context, req *domain.ProviderRequest) (*domain.ProviderResult, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling Anthropic API")

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	resp, err := p.client.Complete(ctx, messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	})
	if err != nil {
		classified := p.classify(err)
		logger.Error("Anthropic API call failed", observability.Error(classified))
		return nil, classified
	}

	text := resp.Text()

	promptTokens := resp.Usage.InputTokens
	completionTokens := resp.Usage.OutputTokens
	if promptTokens == 0 && completionTokens == 0 {
		promptTokens = domain.EstimateTokens(req.Prompt)
		completionTokens = domain.EstimateTokens(text)
	}

	logger.Debug("Anthropic API call succeeded",
		observability.Int("prompt_tokens", promptTokens),
		observability.Int("completion_tokens", completionTokens),
	)

	return &domain.ProviderResult{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) classify(err error) error {
	var api *apiError
	if errors.As(err, &api) {
		return &domain.ProviderError{
			Provider:   p.name,
			StatusCode: api.StatusCode,
			Retryable:  api.StatusCode == http.StatusTooManyRequests || api.StatusCode >= 500,
			Err:        err,
		}
	}

	return &domain.ProviderError{
		Provider:  p.name,
		Retryable: true,
		Err:       err,
	}
}
