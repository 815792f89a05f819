package attendance

import (
	"strings"
	"sync"
)

type DurableStoreFactory func(dsn string, opts DurableStoreOptions) (DurableStore, error)

var durableFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]DurableStoreFactory
}{
	factories: map[string]DurableStoreFactory{},
}

// RegisterDurableStoreFactory makes BuildDurableStoreFromDSN route scheme to factory.
// Registered factories take precedence over the built-in schemes.
func RegisterDurableStoreFactory(scheme string, factory DurableStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	durableFactoryRegistry.mu.Lock()
	defer durableFactoryRegistry.mu.Unlock()
	durableFactoryRegistry.factories[scheme] = factory
}

func lookupDurableStoreFactory(scheme string) (DurableStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	durableFactoryRegistry.mu.RLock()
	defer durableFactoryRegistry.mu.RUnlock()
	factory, ok := durableFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
