package state

import (
	"errors"
	"fmt"
)

const DefaultCacheSize = 1000

// StoreBuilder holds the options a store is built with. Logging is enabled and caching
// disabled unless changed.
type StoreBuilder struct {
	name     string
	supplier BackendSupplier

	cachingEnabled bool
	cacheSize      int

	loggingEnabled bool
	loggingConfig  map[string]string
}

func KeyValueStoreBuilder(name string, supplier BackendSupplier) StoreBuilder {
	return StoreBuilder{
		name:           name,
		supplier:       supplier,
		cacheSize:      DefaultCacheSize,
		loggingEnabled: true,
		loggingConfig:  map[string]string{},
	}
}

func (b StoreBuilder) Name() string {
	return b.name
}

func (b StoreBuilder) CachingEnabled() bool {
	return b.cachingEnabled
}

func (b StoreBuilder) LoggingEnabled() bool {
	return b.loggingEnabled
}

// LoggingConfig returns the changelog topic config overrides
func (b StoreBuilder) LoggingConfig() map[string]string {
	out := make(map[string]string, len(b.loggingConfig))
	for k, v := range b.loggingConfig {
		out[k] = v
	}
	return out
}

// WithCachingEnabled buffers up to size dirty keys between flushes, size <= 0 keeps the current size
func (b StoreBuilder) WithCachingEnabled(size int) StoreBuilder {
	b.cachingEnabled = true
	if size > 0 {
		b.cacheSize = size
	}
	return b
}

func (b StoreBuilder) WithCachingDisabled() StoreBuilder {
	b.cachingEnabled = false
	return b
}

// WithLoggingEnabled backs the store with a changelog topic created with config
func (b StoreBuilder) WithLoggingEnabled(config map[string]string) StoreBuilder {
	b.loggingEnabled = true
	b.loggingConfig = make(map[string]string, len(config))
	for k, v := range config {
		b.loggingConfig[k] = v
	}
	return b
}

func (b StoreBuilder) WithLoggingDisabled() StoreBuilder {
	b.loggingEnabled = false
	b.loggingConfig = map[string]string{}
	return b
}

// Build opens the backend for ctx. changelog may only be nil when logging is disabled.
func (b StoreBuilder) Build(ctx BackendContext, changelog ChangeLogger) (*Store, error) {
	if b.name == "" {
		return nil, errors.New("store name is required")
	}
	if b.supplier == nil {
		return nil, fmt.Errorf("store %s has no backend supplier", b.name)
	}
	if b.loggingEnabled && changelog == nil {
		return nil, fmt.Errorf("store %s has logging enabled but no changelog", b.name)
	}
	if !b.loggingEnabled {
		changelog = nil
	}

	ctx.StoreName = b.name
	backend, err := b.supplier(ctx)
	if err != nil {
		return nil, fmt.Errorf("open backend for %s: %w", b.name, err)
	}

	var cache *writeCache
	if b.cachingEnabled {
		cache, err = newWriteCache(b.cacheSize)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("create cache for %s: %w", b.name, err)
		}
	}

	return newStore(b.name, backend, cache, changelog), nil
}
