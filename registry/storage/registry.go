package storage

import (
	"context"
	"time"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/registry/storage/cache"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// Registry bundles the storage services over one driver. It is safe for
// concurrent use and meant to live for the whole process: upload sessions
// are held in memory by it.
type Registry struct {
	driver    storagedriver.StorageDriver
	blobs     *blobStore
	uploads   *uploadManager
	manifests *manifestStore
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions) error

type registryOptions struct {
	descriptorCache cache.BlobDescriptorCacheProvider
}

// BlobDescriptorCacheProvider puts provider in front of the blob store for
// Stat requests.
func BlobDescriptorCacheProvider(provider cache.BlobDescriptorCacheProvider) RegistryOption {
	return func(o *registryOptions) error {
		o.descriptorCache = provider
		return nil
	}
}

// NewRegistry creates a Registry over driver.
func NewRegistry(ctx context.Context, driver storagedriver.StorageDriver, options ...RegistryOption) (*Registry, error) {
	var opts registryOptions
	for _, option := range options {
		if err := option(&opts); err != nil {
			return nil, err
		}
	}

	blobs := newBlobStore(driver, opts.descriptorCache)
	return &Registry{
		driver:    driver,
		blobs:     blobs,
		uploads:   newUploadManager(driver, blobs),
		manifests: &manifestStore{driver: driver, blobs: blobs},
	}, nil
}

// Blobs returns the published blob store.
func (reg *Registry) Blobs() rockslide.BlobProvider {
	return reg.blobs
}

// Uploads returns the upload session manager.
func (reg *Registry) Uploads() rockslide.UploadManager {
	return reg.uploads
}

// Manifests returns the manifest store.
func (reg *Registry) Manifests() rockslide.ManifestService {
	return reg.manifests
}

// PurgeUploads removes upload sessions idle since olderThan. See
// uploadManager.Purge.
func (reg *Registry) PurgeUploads(ctx context.Context, olderThan time.Time, actuallyDelete bool) ([]string, []error) {
	return reg.uploads.Purge(ctx, olderThan, actuallyDelete)
}
