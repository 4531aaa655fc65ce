// Provider registry: maps configured provider names to factories.
// This replaces dynamic class lookup from the framework embedding; providers
// register themselves and are selected by the "provider" setting.
package apm

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a configured provider from settings.
type Factory func(settings *Settings) (Provider, error)

// Registry holds named provider factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry. Tests use isolated registries;
// production code normally goes through the package-level default.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any existing registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New builds and configures the named provider.
func (r *Registry) New(name string, settings *Settings) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q, registered: %v", ErrUnknownProvider, name, r.Names())
	}
	p, err := f(settings)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return p, nil
}

// NewFromSettings builds the provider selected by the "provider" setting,
// falling back to def when the setting is absent.
func (r *Registry) NewFromSettings(settings *Settings, def string) (Provider, error) {
	return r.New(settings.String(KeyProvider, def), settings)
}

// defaultRegistry backs the package-level registration helpers.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry. Concrete provider
// packages call this from init.
func Register(name string, f Factory) {
	defaultRegistry.Register(name, f)
}

// Names lists providers registered in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}

// New builds a provider from the default registry.
func New(name string, settings *Settings) (Provider, error) {
	return defaultRegistry.New(name, settings)
}

// NewFromSettings builds the configured provider from the default registry.
func NewFromSettings(settings *Settings, def string) (Provider, error) {
	return defaultRegistry.NewFromSettings(settings, def)
}
