// Package provider holds the generator backends that produce the raw action
// stream. The registry is an explicitly constructed instance owned by the
// composition root; there is no package-level singleton.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fragment is one chunk of generator output. Err, when set, is a stream
// transport failure; no further fragments follow it.
type Fragment struct {
	Text string
	Err  error
}

// Generator produces the raw text stream for one request. The returned
// channel is closed at end of stream; cancellation of ctx stops production.
type Generator interface {
	// Name returns the backend identifier.
	Name() string
	// Stream starts generation for the prompt.
	Stream(ctx context.Context, prompt string) (<-chan Fragment, error)
}

// Registry maps backend names to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	defaultGen string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds or replaces a generator. The first registration becomes the
// default.
func (r *Registry) Register(gen Generator) error {
	if gen == nil || gen.Name() == "" {
		return fmt.Errorf("generator name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.generators) == 0 {
		r.defaultGen = gen.Name()
	}
	r.generators[gen.Name()] = gen
	return nil
}

// SetDefault selects the generator used when no name is given.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.generators[name]; !ok {
		return fmt.Errorf("generator %q not registered", name)
	}
	r.defaultGen = name
	return nil
}

// Get returns a generator by name; an empty name returns the default.
func (r *Registry) Get(name string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultGen
	}
	gen, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("generator %q not registered", name)
	}
	return gen, nil
}

// List returns the registered backend names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
