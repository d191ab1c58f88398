// Package cost computes per-call cost from token counts and accumulates
// per-user and per-model totals in the KV store. Monetary values are
// accumulated as integer micro-dollars to avoid float drift; only the
// external representation uses a decimal number.
package cost

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ashdown/promptgate/internal/domain"
	"github.com/ashdown/promptgate/internal/observability"
)

const (
	userPrefix  = "usage:"
	modelPrefix = "model_usage:"

	fieldRequests = "requests"
	fieldTokens   = "tokens"
	fieldCost     = "cost"

	microPerUSD = 1e6
)

// Tracker accumulates usage counters in the shared KV store.
type Tracker struct {
	store domain.Store
}

// New creates a cost tracker backed by the given store.
func New(store domain.Store) *Tracker {
	return &Tracker{store: store}
}

// Compute returns total_tokens x price_per_token rounded half-to-even to six
// decimals.
func (t *Tracker) Compute(pricePerToken float64, totalTokens int) float64 {
	raw := float64(totalTokens) * pricePerToken
	return math.RoundToEven(raw*microPerUSD) / microPerUSD
}

// Record accumulates per-user and per-model counters. Recording is
// best-effort: the caller has already received the completion and must not
// be penalized for accounting failures.
func (t *Tracker) Record(
	ctx context.Context,
	userID, model string,
	promptTokens, completionTokens int,
	costUSD float64,
) error {
	totalTokens := int64(promptTokens + completionTokens)
	microCost := int64(math.RoundToEven(costUSD * microPerUSD))

	var firstErr error
	for _, prefix := range []string{userPrefix + userID, modelPrefix + model} {
		increments := map[string]int64{
			fieldRequests: 1,
			fieldTokens:   totalTokens,
			fieldCost:     microCost,
		}
		for field, delta := range increments {
			if _, err := t.store.IncrBy(ctx, prefix+":"+field, delta); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if firstErr != nil {
		observability.FromContext(ctx).Warn("cost recording failed",
			observability.String("user_id", userID),
			observability.String("model", model),
			observability.Error(firstErr),
		)
		return firstErr
	}

	return nil
}

// UsageFor returns the accumulated usage of one user. A user with no
// recorded usage reads as zeroed counters.
func (t *Tracker) UsageFor(ctx context.Context, userID string) (domain.Usage, error) {
	return t.readUsage(ctx, userPrefix+userID)
}

func (t *Tracker) readUsage(ctx context.Context, prefix string) (domain.Usage, error) {
	requests, err := t.readCounter(ctx, prefix+":"+fieldRequests)
	if err != nil {
		return domain.Usage{}, err
	}
	tokens, err := t.readCounter(ctx, prefix+":"+fieldTokens)
	if err != nil {
		return domain.Usage{}, err
	}
	microCost, err := t.readCounter(ctx, prefix+":"+fieldCost)
	if err != nil {
		return domain.Usage{}, err
	}

	return domain.Usage{
		Requests: requests,
		Tokens:   tokens,
		CostUSD:  float64(microCost) / microPerUSD,
	}, nil
}

func (t *Tracker) readCounter(ctx context.Context, key string) (int64, error) {
	value, err := t.store.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
	}
	return count, nil
}

// Summary scans the usage key prefixes and aggregates per-user and per-model
// totals.
func (t *Tracker) Summary(ctx context.Context) (domain.CostSummary, error) {
	summary := domain.CostSummary{
		Users:  make(map[string]domain.Usage),
		Models: make(map[string]domain.Usage),
	}

	if err := t.aggregate(ctx, userPrefix, summary.Users); err != nil {
		return domain.CostSummary{}, err
	}
	if err := t.aggregate(ctx, modelPrefix, summary.Models); err != nil {
		return domain.CostSummary{}, err
	}

	return summary, nil
}

func (t *Tracker) aggregate(ctx context.Context, prefix string, into map[string]domain.Usage) error {
	keys, err := t.store.Scan(ctx, prefix+"*")
	if err != nil {
		return err
	}

	for _, key := range keys {
		// Key layout is {prefix}{name}:{field}. Names are opaque and may
		// contain colons, so the field is the segment after the last one.
		rest := strings.TrimPrefix(key, prefix)
		sep := strings.LastIndex(rest, ":")
		if sep <= 0 {
			continue
		}
		name, field := rest[:sep], rest[sep+1:]

		count, err := t.readCounter(ctx, key)
		if err != nil {
			return err
		}

		usage := into[name]
		switch field {
		case fieldRequests:
			usage.Requests = count
		case fieldTokens:
			usage.Tokens = count
		case fieldCost:
			usage.CostUSD = float64(count) / microPerUSD
		default:
			continue
		}
		into[name] = usage
	}

	return nil
}
