// Package cache provides descriptor caches that sit in front of the blob
// store. A cache only ever holds descriptors for published blobs; because
// published content is immutable, entries never go stale.
package cache

import (
	"errors"
	"fmt"

	"github.com/rockslide/rockslide"
)

// BlobDescriptorCacheProvider caches blob metadata by digest.
type BlobDescriptorCacheProvider interface {
	rockslide.BlobDescriptorService
}

// ValidateDescriptor checks desc before it is stored in a cache.
func ValidateDescriptor(desc rockslide.BlobMetadata) error {
	if desc.Digest.IsZero() {
		return errors.New("cache: descriptor has no digest")
	}
	if desc.Size < 0 {
		return fmt.Errorf("cache: invalid length in descriptor: %v < 0", desc.Size)
	}
	if desc.MediaType == "" {
		return fmt.Errorf("cache: empty mediatype on descriptor: %v", desc)
	}
	return nil
}
