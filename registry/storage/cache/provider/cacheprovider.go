// Package cacheprovider selects a blob descriptor cache by name.
package cacheprovider

import (
	"context"
	"fmt"
	"sync"

	"github.com/rockslide/rockslide/registry/storage/cache"
)

// InitFunc constructs a cache provider from configuration options.
type InitFunc func(ctx context.Context, options map[string]interface{}) (cache.BlobDescriptorCacheProvider, error)

var (
	cacheProvidersMu sync.RWMutex
	cacheProviders   = make(map[string]InitFunc)
)

// Register makes a cache provider available by name.
func Register(name string, initFunc InitFunc) error {
	cacheProvidersMu.Lock()
	defer cacheProvidersMu.Unlock()

	if _, exists := cacheProviders[name]; exists {
		return fmt.Errorf("name already registered: %s", name)
	}
	cacheProviders[name] = initFunc
	return nil
}

// Get constructs the named cache provider.
func Get(ctx context.Context, name string, options map[string]interface{}) (cache.BlobDescriptorCacheProvider, error) {
	cacheProvidersMu.RLock()
	initFunc, exists := cacheProviders[name]
	cacheProvidersMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no cache Provider registered with name: %s", name)
	}
	return initFunc(ctx, options)
}
