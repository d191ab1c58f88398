package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ashdown/promptgate/internal/config"
	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

// Handler handles HTTP requests. It is the sole translator from the domain
// error taxonomy to status codes.
type Handler struct {
	gateway        *domain.GatewayService
	admin          *domain.AdminService
	requestTimeout time.Duration
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	gateway *domain.GatewayService,
	admin *domain.AdminService,
	serverCfg *config.ServerConfig,
) *Handler {
	return &Handler{
		gateway:        gateway,
		admin:          admin,
		requestTimeout: time.Duration(serverCfg.RequestTimeout) * time.Second,
	}
}

// generateRequest is the wire form of a completion request. Optional fields
// are pointers so omitted values can be told apart from explicit zeros.
type generateRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
	UserID      string   `json:"user_id"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	RetryAfterS int64  `json:"retry_after_s,omitempty"`
}

// HandleGenerate processes completion requests.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var wire generateRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		h.writeError(ctx, w, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	req := &domain.CompletionRequest{
		Prompt: wire.Prompt,
		Model:  wire.Model,
		UserID: wire.UserID,
	}
	if wire.Temperature != nil {
		req.Temperature = *wire.Temperature
	}
	if wire.MaxTokens != nil {
		req.MaxTokens = *wire.MaxTokens
	}
	req.ApplyDefaults(wire.Temperature != nil, wire.MaxTokens != nil)

	ctx = observability.WithUserID(ctx, req.UserID)
	ctx = observability.WithModel(ctx, req.Model)

	result, err := h.gateway.Generate(ctx, req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, result)
}

// HandleHealth handles liveness probes.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.admin.Health(r.Context())

	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(r.Context(), w, status, health)
}

// HandleModels lists registered models with pricing.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	models := h.admin.Models(r.Context())
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"models": models})
}

// HandleUsage returns a user's accumulated usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		http.NotFound(w, r)
		return
	}

	usage, err := h.admin.UsageFor(r.Context(), userID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"requests": usage.Requests,
		"tokens":   usage.Tokens,
		"cost_usd": usage.CostUSD,
	})
}

// HandleRateLimit returns a user's remaining quota and reset times.
func (h *Handler) HandleRateLimit(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		http.NotFound(w, r)
		return
	}

	status, err := h.admin.RateLimitStatus(r.Context(), userID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, status)
}

// HandleCacheStats returns cache statistics.
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.CacheStats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, stats)
}

// HandleCacheClear deletes all cached responses.
func (h *Handler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.admin.ClearCache(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]int64{"deleted_count": deleted})
}

// HandleSummary returns the aggregate admin view.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.admin.Summary(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, summary)
}

// writeError maps a domain error to its HTTP status and body.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := observability.FromContext(ctx)

	var validationErr *domain.ValidationError
	var rateErr *domain.RateLimitError
	var provErr *domain.ProviderError

	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_input",
			Message: validationErr.Error(),
		})

	case errors.Is(err, domain.ErrUnknownModel):
		h.writeJSON(ctx, w, http.StatusNotFound, errorResponse{
			Error:   "invalid_model",
			Message: err.Error(),
		})

	case errors.As(err, &rateErr):
		retryAfter := int64(math.Ceil(rateErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		h.writeJSON(ctx, w, http.StatusTooManyRequests, errorResponse{
			Error:       "rate_limit_exceeded",
			Message:     rateErr.Error(),
			RetryAfterS: retryAfter,
		})

	case errors.Is(err, context.DeadlineExceeded):
		h.writeJSON(ctx, w, http.StatusGatewayTimeout, errorResponse{
			Error:   "timeout",
			Message: "request deadline exceeded",
		})

	case errors.As(err, &provErr):
		h.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{
			Error:   "provider_failure",
			Message: "upstream provider call failed",
		})

	case errors.Is(err, domain.ErrStoreUnavailable):
		h.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{
			Error:   "kv_unavailable",
			Message: "key-value store unavailable",
		})

	default:
		// Never leak internal messages to the client.
		logger.Error("internal error", zap.Error(err))
		h.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{
			Error:   "internal",
			Message: "internal server error",
		})
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Status is already written; just log.
		observability.FromContext(ctx).Error("failed to encode response", zap.Error(err))
	}
}
