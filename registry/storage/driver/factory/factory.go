// Package factory selects a storage driver by name at startup.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

var (
	driverFactoriesMu sync.RWMutex
	driverFactories   = make(map[string]StorageDriverFactory)
)

// StorageDriverFactory creates a driver from configuration parameters.
// Drivers call Register from an init function to become available.
type StorageDriverFactory interface {
	Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error)
}

// Register makes a storage driver available by name. It panics if the name
// is taken or factory is nil.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("Must not provide nil StorageDriverFactory")
	}

	driverFactoriesMu.Lock()
	defer driverFactoriesMu.Unlock()

	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("StorageDriverFactory named %s already registered", name))
	}
	driverFactories[name] = factory
}

// Create builds the named driver. InvalidStorageDriverError is returned when
// no driver of that name is registered.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	driverFactoriesMu.RLock()
	driverFactory, ok := driverFactories[name]
	driverFactoriesMu.RUnlock()
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return driverFactory.Create(ctx, parameters)
}

// Names lists the registered drivers.
func Names() []string {
	driverFactoriesMu.RLock()
	defer driverFactoriesMu.RUnlock()

	names := make([]string, 0, len(driverFactories))
	for name := range driverFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvalidStorageDriverError records an attempt to construct an unregistered
// storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("StorageDriver not registered: %s", err.Name)
}
