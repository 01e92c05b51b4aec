// Package memory provides an in-process blob descriptor cache with ARC
// eviction.
package memory

import (
	"context"
	"errors"
	"math"

	"github.com/hashicorp/golang-lru/arc/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage/cache"
	"github.com/rockslide/rockslide/registry/storage/cache/metrics"
	cacheprovider "github.com/rockslide/rockslide/registry/storage/cache/provider"
)

func init() {
	if err := cacheprovider.Register("inmemory", NewBlobDescriptorCacheProvider); err != nil {
		panic(err)
	}
}

const (
	// DefaultSize is the cache size used when none is configured.
	DefaultSize = 10000

	// UnlimitedSize disables eviction.
	UnlimitedSize = math.MaxInt
)

// Memory configures the inmemory cache.
type Memory struct {
	Size int `mapstructure:"size"`
}

type inMemoryBlobDescriptorCacheProvider struct {
	lru *arc.ARCCache[digest.Digest, rockslide.BlobMetadata]
}

// NewBlobDescriptorCacheProvider builds a cache from options of the form
// {"params": {"size": n}}. A missing or non-positive size selects
// DefaultSize.
func NewBlobDescriptorCacheProvider(ctx context.Context, options map[string]interface{}) (cache.BlobDescriptorCacheProvider, error) {
	var c Memory
	if err := mapstructure.WeakDecode(options["params"], &c); err != nil {
		return nil, err
	}

	size := c.Size
	if size <= 0 {
		size = DefaultSize
	}
	return New(size)
}

// New returns a cache holding at most size descriptors.
func New(size int) (cache.BlobDescriptorCacheProvider, error) {
	lruCache, err := arc.NewARC[digest.Digest, rockslide.BlobMetadata](size)
	if err != nil {
		return nil, err
	}
	return metrics.NewPrometheusCacheProvider(
		&inMemoryBlobDescriptorCacheProvider{lru: lruCache},
		"cache_inmemory",
		"Number of seconds taken by the in-memory descriptor cache",
	), nil
}

func (imbdcp *inMemoryBlobDescriptorCacheProvider) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	if dgst.IsZero() {
		return rockslide.BlobMetadata{}, errors.New("memory cache: zero digest")
	}

	if desc, ok := imbdcp.lru.Get(dgst); ok {
		return desc, nil
	}
	return rockslide.BlobMetadata{}, rockslide.ErrBlobUnknown
}

func (imbdcp *inMemoryBlobDescriptorCacheProvider) SetDescriptor(ctx context.Context, dgst digest.Digest, desc rockslide.BlobMetadata) error {
	if dgst.IsZero() {
		return errors.New("memory cache: zero digest")
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}

	imbdcp.lru.Add(dgst, desc)
	return nil
}

// NewCacheOptions returns options selecting a cache of the given size.
func NewCacheOptions(size int) map[string]interface{} {
	return map[string]interface{}{
		"params": map[interface{}]interface{}{
			"size": size,
		},
	}
}
