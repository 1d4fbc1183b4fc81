package provider

import (
	"fmt"
	"sort"
	"sync"

	tserrors "github.com/streamloop/toolstream/errors"
)

// Registry maps provider identifiers to adapters.
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its own name, replacing any previous
// registration for that provider.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil || adapter.Name() == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}
	if !adapter.Shape().Valid() {
		return fmt.Errorf("adapter %s declares unknown continuation shape %q", adapter.Name(), adapter.Shape())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
	return nil
}

// Get retrieves the adapter for a provider id.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for provider %q (available: %v)",
			tserrors.ErrProviderUnavailable, name, r.availableLocked())
	}
	return adapter, nil
}

// Available returns the sorted names of all registered providers.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
