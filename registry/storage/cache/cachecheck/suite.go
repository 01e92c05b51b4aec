// Package cachecheck holds the behaviour shared by every blob descriptor
// cache implementation.
package cachecheck

import (
	"context"
	"errors"
	"testing"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage/cache"
)

// CheckBlobDescriptorCache runs the common checks against provider.
func CheckBlobDescriptorCache(t *testing.T, provider cache.BlobDescriptorCacheProvider) {
	ctx := context.Background()

	checkBlobDescriptorCacheEmpty(ctx, t, provider)
	checkBlobDescriptorCacheSetAndRead(ctx, t, provider)
}

func checkBlobDescriptorCacheEmpty(ctx context.Context, t *testing.T, provider cache.BlobDescriptorCacheProvider) {
	if _, err := provider.Stat(ctx, digest.FromBytes([]byte("never stored"))); !errors.Is(err, rockslide.ErrBlobUnknown) {
		t.Fatalf("expected unknown blob error with empty store: %v", err)
	}

	if _, err := provider.Stat(ctx, digest.Digest{}); err == nil {
		t.Fatalf("expected error checking for zero digest")
	}

	if err := provider.SetDescriptor(ctx, digest.Digest{}, rockslide.BlobMetadata{
		Digest:    digest.FromBytes([]byte("x")),
		Size:      1,
		MediaType: rockslide.BlobMediaType,
	}); err == nil {
		t.Fatalf("expected error setting value on zero digest")
	}
}

func checkBlobDescriptorCacheSetAndRead(ctx context.Context, t *testing.T, provider cache.BlobDescriptorCacheProvider) {
	content := []byte("cached blob content")
	localDigest := digest.FromBytes(content)
	expected := rockslide.BlobMetadata{
		Digest:    localDigest,
		Size:      int64(len(content)),
		MediaType: rockslide.BlobMediaType,
	}

	if err := provider.SetDescriptor(ctx, localDigest, expected); err != nil {
		t.Fatalf("error adding descriptor %v to cache: %v", expected, err)
	}

	desc, err := provider.Stat(ctx, localDigest)
	if err != nil {
		t.Fatalf("unexpected error statting descriptor: %v", err)
	}
	if desc != expected {
		t.Fatalf("unexpected descriptor: %#v != %#v", desc, expected)
	}

	// A second set is harmless.
	if err := provider.SetDescriptor(ctx, localDigest, expected); err != nil {
		t.Fatalf("unexpected error setting descriptor twice: %v", err)
	}

	invalid := expected
	invalid.Size = -1
	if err := provider.SetDescriptor(ctx, digest.FromBytes([]byte("other")), invalid); err == nil {
		t.Fatalf("expected invalid descriptor to be rejected")
	}
}
