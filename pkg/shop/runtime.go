package shop

import (
	"sync"

	"github.com/omarrsalif594/sibyl-sub000/pkg/errors"
	"github.com/omarrsalif594/sibyl-sub000/pkg/workspace"
)

type loaded struct {
	technique Technique
	ref       Reference
}

// Runtime resolves the techniques of one shop and caches what it loads.
// The first successful load of a logical name wins for the lifetime of the
// Runtime; failed loads are not cached.
type Runtime struct {
	name     string
	shop     workspace.Shop
	registry *Registry

	mu    sync.Mutex
	cache map[string]loaded
}

// NewRuntime creates a resolver for the named shop.
func NewRuntime(name string, shop workspace.Shop, registry *Registry) *Runtime {
	return &Runtime{
		name:     name,
		shop:     shop,
		registry: registry,
		cache:    make(map[string]loaded),
	}
}

// Name returns the shop name.
func (r *Runtime) Name() string {
	return r.name
}

// Resolve returns the technique for a logical name and its reference.
// Unknown names, malformed references and unregistered techniques return
// a *errors.ResolutionError.
func (r *Runtime) Resolve(logical string) (Technique, Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.cache[logical]; ok {
		return l.technique, l.ref, nil
	}

	raw, ok := r.shop.Techniques[logical]
	if !ok {
		return nil, Reference{}, &errors.ResolutionError{
			Kind:   "technique",
			Name:   r.name + "." + logical,
			Reason: "not defined in shop",
		}
	}

	ref, err := ParseReference(raw)
	if err != nil {
		return nil, Reference{}, err
	}

	factory, ok := r.registry.Lookup(ref.Key())
	if !ok {
		return nil, Reference{}, &errors.ResolutionError{
			Kind:   "technique",
			Name:   ref.Key(),
			Reason: "not registered",
		}
	}

	technique, err := factory(ref)
	if err != nil {
		return nil, Reference{}, &errors.ResolutionError{
			Kind:   "technique",
			Name:   ref.String(),
			Reason: "factory failed",
			Cause:  err,
		}
	}
	if technique == nil {
		return nil, Reference{}, &errors.ResolutionError{Kind: "technique", Name: ref.String(), Reason: "factory returned nil"}
	}

	r.cache[logical] = loaded{technique: technique, ref: ref}
	return technique, ref, nil
}

// Config returns a copy of the shop-level configuration for a logical
// technique name merged with overrides (overrides win).
func (r *Runtime) Config(logical string, overrides map[string]any) map[string]any {
	base := r.shop.Config[logical]
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Loaded returns the number of cached techniques.
func (r *Runtime) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
