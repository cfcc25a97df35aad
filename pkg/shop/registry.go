package shop

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps "category.technique" keys to factories. A registry is
// owned by a runtime, not shared process-wide.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under key. Registering a key twice is an error.
func (r *Registry) Register(key string, f Factory) error {
	ref, err := ParseReference(key)
	if err != nil {
		return fmt.Errorf("invalid technique key %q: %w", key, err)
	}
	if ref.Implementation != "" {
		return fmt.Errorf("technique key %q must not name an implementation", key)
	}
	if f == nil {
		return fmt.Errorf("nil factory for technique %q", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("technique %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(key string, f Factory) {
	if err := r.Register(key, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under key.
func (r *Registry) Lookup(key string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key]
	return f, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
