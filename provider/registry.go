package provider

import (
	"sync"

	"github.com/aimux/gateway/errors"
)

// Registry is the Router's name-keyed map of adapter capability sets, per
// the "no inheritance" design note: one variant per vendor, selected by
// name rather than by subclass dispatch.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return errors.Newf("provider %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get returns the named adapter, if registered.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns every registered adapter, order unspecified.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// SupportingModel returns every registered adapter whose descriptor lists
// the given model.
func (r *Registry) SupportingModel(model string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, a := range r.adapters {
		if a.Supports(model) {
			out = append(out, a)
		}
	}
	return out
}

// Models returns a copy of every registered adapter's model list, keyed by
// provider name; the lists are not deduplicated across providers. GET
// /anthropic/v1/models flattens and deduplicates them.
func (r *Registry) Models() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = append([]string(nil), a.Descriptor().Models...)
	}
	return out
}
