package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// Registry maps driver names to backend builders. Driver packages register
// themselves in their init so importing a driver is enough to make it
// selectable by name.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// Register adds or replaces a builder under name.
func (r *Registry) Register(name string, builder Builder) {
	if name == "" || builder == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build constructs the backend registered under name.
func (r *Registry) Build(ctx context.Context, name string, conf Config, logger watermill.LoggerAdapter) (Backend, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown storage driver %q (registered: %s)",
			cerrors.ErrProviderNotFound, name, strings.Join(r.Names(), ", "))
	}
	return builder(ctx, conf, logger)
}

// Names lists the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a driver is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// DefaultRegistry holds the globally registered storage drivers.
var DefaultRegistry = NewRegistry()

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build constructs a backend from the default registry.
func Build(ctx context.Context, name string, conf Config, logger watermill.LoggerAdapter) (Backend, error) {
	return DefaultRegistry.Build(ctx, name, conf, logger)
}

// Names lists the drivers in the default registry.
func Names() []string {
	return DefaultRegistry.Names()
}

// Has reports whether the default registry knows name.
func Has(name string) bool {
	return DefaultRegistry.Has(name)
}
