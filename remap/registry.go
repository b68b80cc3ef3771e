package remap

import (
	"slices"
	"sync"
)

// Factory builds a plugin bound to the services of host. A host calls each
// factory at most once per loaded configuration.
type Factory func(host Host) Plugin

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a plugin available under name. It panics if called twice
// with the same name or with a nil factory, and is meant to be called from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("remap: Register factory is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("remap: Register called twice for plugin " + name)
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Registered returns the sorted names of all registered plugins.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
