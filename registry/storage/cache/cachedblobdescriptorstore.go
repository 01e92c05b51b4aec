package cache

import (
	"context"
	"errors"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	prometheus "github.com/rockslide/rockslide/metrics"
)

var cacheCount = prometheus.StorageNamespace.NewLabeledCounter("cache", "The number of cache request received", "type")

type cachedBlobStatter struct {
	cache   rockslide.BlobDescriptorService
	backend rockslide.BlobStatter
}

// NewCachedBlobStatter returns a statter that consults cache before backend
// and fills cache on a miss. Cache failures are logged and never returned.
func NewCachedBlobStatter(cache rockslide.BlobDescriptorService, backend rockslide.BlobStatter) rockslide.BlobDescriptorService {
	return &cachedBlobStatter{
		cache:   cache,
		backend: backend,
	}
}

func (cbds *cachedBlobStatter) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	cacheCount.WithValues("Request").Inc(1)

	desc, cacheErr := cbds.cache.Stat(ctx, dgst)
	if cacheErr == nil {
		cacheCount.WithValues("Hit").Inc(1)
		return desc, nil
	}

	desc, err := cbds.backend.Stat(ctx, dgst)
	if err != nil {
		return desc, err
	}

	if errors.Is(cacheErr, rockslide.ErrBlobUnknown) {
		cacheCount.WithValues("Miss").Inc(1)
		if err := cbds.cache.SetDescriptor(ctx, dgst, desc); err != nil {
			dcontext.GetLoggerWithField(ctx, "blob", dgst).WithError(err).Error("error from cache setting desc")
		}
		return desc, nil
	}

	// Do not refill on unexpected cache errors; a broken cache would
	// otherwise see a write for every read.
	dcontext.GetLoggerWithField(ctx, "blob", dgst).WithError(cacheErr).Error("error from cache stat(ing) blob")
	cacheCount.WithValues("Error").Inc(1)
	return desc, nil
}

func (cbds *cachedBlobStatter) SetDescriptor(ctx context.Context, dgst digest.Digest, desc rockslide.BlobMetadata) error {
	if err := cbds.cache.SetDescriptor(ctx, dgst, desc); err != nil {
		dcontext.GetLoggerWithField(ctx, "blob", dgst).WithError(err).Error("error from cache setting desc")
	}
	return nil
}
