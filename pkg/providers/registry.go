package providers

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry holds pricing providers ordered by name. Model lookups walk that
// order, so the first provider alphabetically wins when two price a model.
type Registry struct {
	mu     sync.RWMutex
	sorted []Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NewRegistryFromConfigs registers a Table for each pricing config.
func NewRegistryFromConfigs(configs []*ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range configs {
		if err := r.Register(NewTable(cfg)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func byName(p Provider, name string) int {
	return strings.Compare(p.Name(), name)
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, found := slices.BinarySearchFunc(r.sorted, p.Name(), byName)
	if found {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.sorted = slices.Insert(r.sorted, i, p)
	return nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, found := slices.BinarySearchFunc(r.sorted, name, byName); found {
		return r.sorted[i], nil
	}
	return nil, fmt.Errorf("provider %q not found: %w", name, ErrUnknownProvider)
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.sorted))
	for i, p := range r.sorted {
		names[i] = p.Name()
	}
	return names
}

// All returns the registered providers ordered by name.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sorted)
}

// FindProviderForModel returns the first provider that prices model.
func (r *Registry) FindProviderForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := slices.IndexFunc(r.sorted, func(p Provider) bool { return p.SupportsModel(model) }); i >= 0 {
		return r.sorted[i], nil
	}
	return nil, fmt.Errorf("no provider found for model %q: %w", model, ErrUnknownModel)
}

// Resolve returns the named provider, or the one pricing model when name is empty.
func (r *Registry) Resolve(name, model string) (Provider, error) {
	if name != "" {
		return r.Get(name)
	}
	return r.FindProviderForModel(model)
}
