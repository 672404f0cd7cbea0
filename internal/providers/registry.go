package providers

import (
	"fmt"
	"sort"
)

// Registry is the closed set of providers the service supports. It is built
// once from configuration; lookups of unregistered names fail with
// ErrUnknownProvider rather than falling through.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes the supplied providers by name.
func NewRegistry(list ...Provider) (*Registry, error) {
	indexed := make(map[string]Provider, len(list))
	for _, provider := range list {
		name := provider.Name()
		if name == "" {
			return nil, fmt.Errorf("providers: provider with empty name")
		}
		if _, exists := indexed[name]; exists {
			return nil, fmt.Errorf("providers: duplicate provider %q", name)
		}
		indexed[name] = provider
	}
	return &Registry{providers: indexed}, nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, nil
}

// Names returns the registered provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
