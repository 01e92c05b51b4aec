// Package redis provides a blob descriptor cache shared between registry
// instances through redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage/cache"
	"github.com/rockslide/rockslide/registry/storage/cache/metrics"
)

// redisBlobDescriptorService stores each descriptor as a hash keyed by
// digest with digest, size and mediatype fields.
type redisBlobDescriptorService struct {
	pool redis.UniversalClient
}

var _ rockslide.BlobDescriptorService = &redisBlobDescriptorService{}

// NewRedisBlobDescriptorCacheProvider returns a cache backed by pool.
func NewRedisBlobDescriptorCacheProvider(pool redis.UniversalClient) cache.BlobDescriptorCacheProvider {
	return metrics.NewPrometheusCacheProvider(
		&redisBlobDescriptorService{
			pool: pool,
		},
		"cache_redis",
		"Number of seconds taken by redis",
	)
}

// Stat reads the descriptor hash for dgst.
func (rbds *redisBlobDescriptorService) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	if dgst.IsZero() {
		return rockslide.BlobMetadata{}, errors.New("redis cache: zero digest")
	}

	reply, err := rbds.pool.HMGet(ctx, rbds.blobDescriptorHashKey(dgst), "digest", "size", "mediatype").Result()
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}

	if len(reply) < 3 || reply[0] == nil || reply[1] == nil {
		return rockslide.BlobMetadata{}, rockslide.ErrBlobUnknown
	}

	digestString, ok := reply[0].(string)
	if !ok {
		return rockslide.BlobMetadata{}, fmt.Errorf("digest is not a string")
	}
	stored, err := digest.Parse(digestString)
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}
	if stored != dgst {
		return rockslide.BlobMetadata{}, fmt.Errorf("redis cache: entry for %v holds %v", dgst, stored)
	}

	sizeString, ok := reply[1].(string)
	if !ok {
		return rockslide.BlobMetadata{}, fmt.Errorf("size is not a string")
	}
	size, err := strconv.ParseInt(sizeString, 10, 64)
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}

	desc := rockslide.BlobMetadata{Digest: stored, Size: size, MediaType: rockslide.BlobMediaType}
	if mediaType, ok := reply[2].(string); ok && mediaType != "" {
		desc.MediaType = mediaType
	}
	return desc, nil
}

// SetDescriptor writes the descriptor hash for dgst. The media type is only
// set if absent.
func (rbds *redisBlobDescriptorService) SetDescriptor(ctx context.Context, dgst digest.Digest, desc rockslide.BlobMetadata) error {
	if dgst.IsZero() {
		return errors.New("redis cache: zero digest")
	}
	if err := cache.ValidateDescriptor(desc); err != nil {
		return err
	}

	key := rbds.blobDescriptorHashKey(dgst)
	if err := rbds.pool.HSet(ctx, key, "digest", desc.Digest.String(), "size", desc.Size).Err(); err != nil {
		return err
	}
	return rbds.pool.HSetNX(ctx, key, "mediatype", desc.MediaType).Err()
}

func (rbds *redisBlobDescriptorService) blobDescriptorHashKey(dgst digest.Digest) string {
	return "blobs::" + dgst.String()
}
