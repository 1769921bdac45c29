// internal/database/registry.go
//
// Adapter registry (tag → factory).
//
// Backend packages expose a Register(*Registry) helper that binds their
// tag to a Factory.  main wires every compiled-in backend once at start-up;
// tests build a fresh Registry and register doubles.  AdapterFor builds
// and memoises one Adapter per descriptor so repeated tenants on the same
// cluster share adapter state.

package database

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an Adapter for a validated descriptor.
type Factory func(Descriptor) (Adapter, error)

// Registry is safe for concurrent use.  Zero value is invalid; use
// NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter // descriptor key → adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register binds tag to f, replacing any previous binding.
func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	r.factories[tag] = f
	for k, a := range r.adapters {
		if a.Type() == tag {
			delete(r.adapters, k)
		}
	}
	r.mu.Unlock()
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AdapterFor returns the Adapter for d, building it on first use.  An
// unknown tag yields ErrUnsupportedBackend.
func (r *Registry) AdapterFor(d Descriptor) (Adapter, error) {
	key := d.Name + "\x00" + d.Type

	r.mu.RLock()
	a, ok := r.adapters[key]
	f, known := r.factories[d.Type]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %q (cluster %q)", ErrUnsupportedBackend, d.Type, d.Name)
	}

	built, err := f(d)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter for %q: %w", d.Type, d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[key]; ok {
		return a, nil
	}
	r.adapters[key] = built
	return built, nil
}
