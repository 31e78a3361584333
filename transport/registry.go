package transport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// Registry maps transport names to endpoint builders. The zero value is
// ready to use.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// NewRegistry returns an empty registry, independent of the default one.
func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry that backends register
// into from init.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a builder under name without capability metadata.
// Registering a duplicate name panics; backends register from init, so a
// duplicate is a programming error.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds a builder under name along with metadata
// describing what the backend supports.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		panic("quicflow: transport name cannot be empty")
	}
	if builder == nil {
		panic(fmt.Sprintf("quicflow: transport %q registered with nil builder", name))
	}
	if r.builders == nil {
		r.builders = map[string]Builder{}
		r.capabilities = map[string]Capabilities{}
	}
	if _, dup := r.builders[name]; dup {
		panic(fmt.Sprintf("quicflow: transport %q registered twice", name))
	}
	caps.Name = name
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// Build constructs the endpoint for the transport named in cfg.
func (r *Registry) Build(cfg Config, logger watermill.LoggerAdapter) (Endpoint, error) {
	if cfg == nil {
		return nil, fmt.Errorf("quicflow: transport config cannot be nil")
	}
	name := cfg.GetTransport()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("quicflow: unknown transport %q (registered: %v)", name, r.Names())
	}
	return builder(cfg, logger)
}

// Has reports whether a builder is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Names returns the registered transport names in sorted order.
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

// Capabilities returns the metadata registered for name.
func (r *Registry) Capabilities(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.capabilities[name]
	return caps, ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	defaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder and its metadata to the default
// registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	defaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build constructs an endpoint using the default registry.
func Build(cfg Config, logger watermill.LoggerAdapter) (Endpoint, error) {
	return defaultRegistry.Build(cfg, logger)
}

// Has reports whether the default registry knows name.
func Has(name string) bool {
	return defaultRegistry.Has(name)
}

// Names lists the transports registered in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}
