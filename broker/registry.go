package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// Registry maps broker names to builders and their capabilities. Broker
// packages register themselves in their init so importing a broker is
// enough to make it selectable by name.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     map[string]Builder{},
		capabilities: map[string]Capabilities{},
	}
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

// RegisterWithCapabilities adds a builder together with its capabilities.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	if name == "" || builder == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities registered under name. Unknown
// brokers report a zero set carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build constructs the broker registered under name.
func (r *Registry) Build(ctx context.Context, name string, conf Config, logger watermill.LoggerAdapter) (Broker, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return Broker{}, fmt.Errorf("%w: unknown broker %q (registered: %s)",
			cerrors.ErrProviderNotFound, name, strings.Join(r.Names(), ", "))
	}
	return builder(ctx, conf, logger)
}

// Names lists the registered broker names, sorted.
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

// Has reports whether a broker is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// DefaultRegistry holds the globally registered brokers.
var DefaultRegistry = NewRegistry()

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and capabilities to the default
// registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build constructs a broker from the default registry.
func Build(ctx context.Context, name string, conf Config, logger watermill.LoggerAdapter) (Broker, error) {
	return DefaultRegistry.Build(ctx, name, conf, logger)
}

// Names lists the brokers in the default registry.
func Names() []string {
	return DefaultRegistry.Names()
}

// Has reports whether the default registry knows name.
func Has(name string) bool {
	return DefaultRegistry.Has(name)
}
