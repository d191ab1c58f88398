// Package echo provides a deterministic provider that echoes the prompt
// back. It makes no external calls and exists for development and tests.
package echo

import (
	"context"
	"errors"

	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

const providerName = "echo"

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name string
}

// NewProvider creates a new echo provider. No configuration is required as
// this provider operates entirely in-memory.
func NewProvider() *Provider {
	return &Provider{name: providerName}
}

// Complete returns the prompt as the completion with estimated token counts.
func (p *Provider) Complete(ctx context.Context, req *domain.ProviderRequest) (*domain.ProviderResult, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	observability.FromContext(ctx).Debug("echoing request")

	tokens := domain.EstimateTokens(req.Prompt)

	return &domain.ProviderResult{
		Text:             req.Prompt,
		PromptTokens:     tokens,
		CompletionTokens: tokens,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}
