// Package registry holds the named lookup sources available to a chain, so
// pipelines can reference external reference data by name instead of
// constructing resolver values inline.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/enrichgo/internal/lookup"
)

// Module is the interface lookup-source modules implement to be registered.
type Module interface {
	Register(r *Registry) error
}

// Registry maps source names to lookup resolvers for a single application
// instance. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]lookup.Resolver
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		resolvers: make(map[string]lookup.Resolver),
	}
}

// Register adds a named resolver. Duplicate names are a wiring error.
func (r *Registry) Register(name string, resolver lookup.Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.resolvers[name]; dup {
		return fmt.Errorf("lookup source %q registered twice", name)
	}
	r.resolvers[name] = resolver
	return nil
}

// Clone returns a registry with the same resolvers that shares no state
// with the receiver. Pipeline runs register their run-scoped sources into a
// clone, keeping the application registry reusable across runs.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolvers := make(map[string]lookup.Resolver, len(r.resolvers))
	for name, resolver := range r.resolvers {
		resolvers[name] = resolver
	}
	return &Registry{resolvers: resolvers}
}

// Resolver returns the resolver registered under name.
func (r *Registry) Resolver(name string) (lookup.Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolver, ok := r.resolvers[name]
	return resolver, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
