// Package registry resolves public model identifiers to provider bindings.
// The registry is seeded at startup and read-only afterwards; it knows
// nothing about HTTP.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ashdown/promptgate/internal/domain"
)

// Registry implements the domain.ProviderRegistry interface.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]domain.Binding
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:       sync.RWMutex{},
		bindings: make(map[string]domain.Binding),
	}
}

// Register adds a binding to the registry.
func (r *Registry) Register(_ context.Context, binding domain.Binding) error {
	if binding.Model == "" {
		return errors.New("binding model cannot be empty")
	}
	if binding.Provider == nil {
		return errors.New("binding provider cannot be nil")
	}
	if binding.PricePerToken < 0 {
		return errors.New("binding price cannot be negative")
	}
	if binding.NativeModel == "" {
		binding.NativeModel = binding.Model
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[binding.Model]; exists {
		return fmt.Errorf("model %s already registered", binding.Model)
	}

	r.bindings[binding.Model] = binding
	return nil
}

// Resolve returns the binding for a model.
func (r *Registry) Resolve(_ context.Context, model string) (domain.Binding, error) {
	if model == "" {
		return domain.Binding{}, errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, exists := r.bindings[model]
	if !exists {
		return domain.Binding{}, fmt.Errorf("%w: %s", domain.ErrUnknownModel, model)
	}

	return binding, nil
}

// List returns all registered bindings, sorted by model name for stable
// output.
func (r *Registry) List(_ context.Context) []domain.Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bindings := make([]domain.Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		bindings = append(bindings, binding)
	}

	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Model < bindings[j].Model
	})

	return bindings
}
