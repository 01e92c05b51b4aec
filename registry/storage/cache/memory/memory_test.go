package memory

import (
	"context"
	"testing"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage/cache/cachecheck"
	cacheprovider "github.com/rockslide/rockslide/registry/storage/cache/provider"
)

func TestInMemoryBlobInfoCache(t *testing.T) {
	provider, err := NewBlobDescriptorCacheProvider(context.Background(), NewCacheOptions(UnlimitedSize))
	if err != nil {
		t.Fatalf("unexpected error creating cache: %v", err)
	}
	cachecheck.CheckBlobDescriptorCache(t, provider)
}

func TestInMemoryBlobInfoCacheRegistered(t *testing.T) {
	provider, err := cacheprovider.Get(context.Background(), "inmemory", nil)
	if err != nil {
		t.Fatalf("unexpected error getting cache provider: %v", err)
	}
	cachecheck.CheckBlobDescriptorCache(t, provider)
}

func TestInMemoryBlobInfoCacheEviction(t *testing.T) {
	provider, err := New(2)
	if err != nil {
		t.Fatalf("unexpected error creating cache: %v", err)
	}

	ctx := context.Background()
	var digests []digest.Digest
	for _, s := range []string{"a", "b", "c", "d"} {
		dgst := digest.FromBytes([]byte(s))
		digests = append(digests, dgst)
		if err := provider.SetDescriptor(ctx, dgst, rockslide.BlobMetadata{Digest: dgst, Size: 1, MediaType: rockslide.BlobMediaType}); err != nil {
			t.Fatalf("unexpected error setting descriptor: %v", err)
		}
	}

	found := 0
	for _, dgst := range digests {
		if _, err := provider.Stat(ctx, dgst); err == nil {
			found++
		}
	}
	if found > 2 {
		t.Fatalf("cache holds %d entries, limit is 2", found)
	}
}
