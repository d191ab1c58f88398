package domain

import (
	"fmt"
	"strings"
)

const (
	maxPromptLength = 10000
	maxMaxTokens    = 4096

	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// CompletionRequest represents an inbound text generation request.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	UserID      string  `json:"user_id"`
}

// ApplyDefaults fills unset optional fields with their documented defaults.
// A zero temperature from the wire is indistinguishable from "unset", so the
// handler reports which fields the JSON body actually carried.
func (r *CompletionRequest) ApplyDefaults(temperatureSet, maxTokensSet bool) {
	if !temperatureSet {
		r.Temperature = defaultTemperature
	}
	if !maxTokensSet {
		r.MaxTokens = defaultMaxTokens
	}
}

// Validate checks the request against the admission schema.
func (r *CompletionRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "prompt cannot be empty"}
	}
	if len(r.Prompt) > maxPromptLength {
		return &ValidationError{
			Field:  "prompt",
			Reason: fmt.Sprintf("prompt exceeds %d characters", maxPromptLength),
		}
	}
	if r.Model == "" {
		return &ValidationError{Field: "model", Reason: "model cannot be empty"}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return &ValidationError{Field: "temperature", Reason: "temperature must be in [0, 2]"}
	}
	if r.MaxTokens < 1 || r.MaxTokens > maxMaxTokens {
		return &ValidationError{
			Field:  "max_tokens",
			Reason: fmt.Sprintf("max_tokens must be in [1, %d]", maxMaxTokens),
		}
	}
	if r.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "user_id cannot be empty"}
	}
	return nil
}

// CompletionResult is the canonical response envelope for one request.
type CompletionResult struct {
	Completion       string  `json:"completion"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	RequestID        string  `json:"request_id"`
	Cached           bool    `json:"cached"`
	LatencyMS        float64 `json:"latency_ms"`
}

// ProviderRequest is the provider-facing slice of a completion request.
// Model carries the provider's native model name.
type ProviderRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ProviderResult is the raw upstream completion before cost annotation.
type ProviderResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Binding maps a public model name to its provider, native model name and
// per-token price. Immutable after registry initialization.
type Binding struct {
	Model         string
	NativeModel   string
	PricePerToken float64
	Provider      Provider
}

// Usage aggregates a user's or model's accumulated consumption.
type Usage struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
}

// EstimateTokens approximates a token count for providers that omit usage
// from their responses. Convention: one token per four characters, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
