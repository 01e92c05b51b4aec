package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/internal/uuid"
	"github.com/rockslide/rockslide/registry/storage/cache"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// blobStore is the content addressable store of published blobs. It is the
// single source of truth for whether a digest exists; the optional
// descriptor cache only ever mirrors it.
type blobStore struct {
	driver  storagedriver.StorageDriver
	statter rockslide.BlobDescriptorService

	// publishing coalesces concurrent publishes of one digest, so at most
	// one Move into a given blob path is in flight.
	publishing singleflight.Group
}

var _ rockslide.BlobProvider = &blobStore{}

// newBlobStore returns a blob store over driver. A non-nil provider is
// consulted before the driver on Stat and filled on publish.
func newBlobStore(driver storagedriver.StorageDriver, provider cache.BlobDescriptorCacheProvider) *blobStore {
	bs := &blobStore{driver: driver}
	bs.statter = &blobStatter{driver: driver}
	if provider != nil {
		bs.statter = cache.NewCachedBlobStatter(provider, bs.statter)
	}
	return bs
}

// Stat returns the metadata for dgst, or ErrBlobUnknown.
func (bs *blobStore) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	return bs.statter.Stat(ctx, dgst)
}

// Get retrieves the whole blob. Only suitable for small blobs such as
// manifests.
func (bs *blobStore) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	bp, err := pathFor(blobDataPathSpec{digest: dgst})
	if err != nil {
		return nil, err
	}

	p, err := bs.driver.GetContent(ctx, bp)
	if err != nil {
		if storagedriver.IsNotFound(err) {
			return nil, rockslide.ErrBlobUnknown
		}
		return nil, err
	}
	return p, nil
}

// Open returns a seekable reader over a published blob. A digest that is
// not fully published yields ErrBlobUnknown.
func (bs *blobStore) Open(ctx context.Context, dgst digest.Digest) (io.ReadSeekCloser, error) {
	desc, err := bs.Stat(ctx, dgst)
	if err != nil {
		return nil, err
	}

	bp, err := pathFor(blobDataPathSpec{digest: desc.Digest})
	if err != nil {
		return nil, err
	}
	return newFileReader(ctx, bs.driver, bp, desc.Size)
}

// Put stores p as a blob, staging it first like any upload.
func (bs *blobStore) Put(ctx context.Context, p []byte) (rockslide.BlobMetadata, error) {
	dgst := digest.FromBytes(p)
	if desc, err := bs.Stat(ctx, dgst); err == nil {
		return desc, nil
	} else if !errors.Is(err, rockslide.ErrBlobUnknown) {
		return rockslide.BlobMetadata{}, err
	}

	bw, err := newBlobWriter(ctx, bs.driver, uuid.NewString(), time.Now())
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}
	if _, err := bw.Write(p); err != nil {
		bw.cancel(ctx)
		return rockslide.BlobMetadata{}, err
	}
	return bs.publish(ctx, bw, dgst)
}

// publish verifies the staged content of bw against claimed and, on a
// match, moves it to the blob path for claimed. The staging area is removed
// whatever the outcome. An existing blob turns the move into a no-op.
func (bs *blobStore) publish(ctx context.Context, bw *blobWriter, claimed digest.Digest) (rockslide.BlobMetadata, error) {
	canonical, size, err := bw.commit(ctx)
	if err != nil {
		bw.cancel(ctx)
		return rockslide.BlobMetadata{}, err
	}

	if canonical != claimed {
		dcontext.GetLoggerWithFields(ctx, map[any]any{
			"canonical": canonical,
			"provided":  claimed,
			"upload.id": bw.ID(),
		}).Info("canonical digest does not match provided digest")
		bw.cancel(ctx)
		return rockslide.BlobMetadata{}, rockslide.ErrBlobInvalidDigest{Digest: claimed, Computed: canonical}
	}

	blobPath, err := pathFor(blobDataPathSpec{digest: canonical})
	if err != nil {
		bw.cancel(ctx)
		return rockslide.BlobMetadata{}, err
	}

	// A move that has started must finish even if this request goes away.
	moveCtx := dcontext.Detach(ctx)
	_, err, shared := bs.publishing.Do(canonical.String(), func() (interface{}, error) {
		if _, err := bs.driver.Stat(moveCtx, blobPath); err == nil {
			return nil, nil
		} else if !storagedriver.IsNotFound(err) {
			return nil, err
		}
		return nil, bs.driver.Move(moveCtx, bw.path, blobPath)
	})

	if rmErr := bw.removeResources(moveCtx); rmErr != nil {
		dcontext.GetLoggerWithField(ctx, "upload.id", bw.ID()).WithError(rmErr).Warn("staging area left behind")
	}
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}

	desc := rockslide.BlobMetadata{
		Digest:    canonical,
		Size:      size,
		MediaType: rockslide.BlobMediaType,
	}
	if err := bs.statter.SetDescriptor(ctx, canonical, desc); err != nil {
		dcontext.GetLoggerWithField(ctx, "blob", canonical).WithError(err).Warn("unable to record descriptor")
	}

	dcontext.GetLoggerWithFields(ctx, map[any]any{
		"digest": canonical,
		"size":   size,
		"shared": shared,
	}).Debug("blob published")
	return desc, nil
}

// blobStatter answers Stat from the driver alone.
type blobStatter struct {
	driver storagedriver.StorageDriver
}

var _ rockslide.BlobDescriptorService = &blobStatter{}

func (bs *blobStatter) Stat(ctx context.Context, dgst digest.Digest) (rockslide.BlobMetadata, error) {
	if dgst.IsZero() {
		return rockslide.BlobMetadata{}, rockslide.ErrBlobUnknown
	}

	bp, err := pathFor(blobDataPathSpec{digest: dgst})
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}

	fi, err := bs.driver.Stat(ctx, bp)
	if err != nil {
		if storagedriver.IsNotFound(err) {
			return rockslide.BlobMetadata{}, rockslide.ErrBlobUnknown
		}
		return rockslide.BlobMetadata{}, err
	}

	if fi.IsDir() {
		dcontext.GetLogger(ctx).Warnf("blob path should not be a directory: %q", bp)
		return rockslide.BlobMetadata{}, rockslide.ErrBlobUnknown
	}

	return rockslide.BlobMetadata{
		Digest:    dgst,
		Size:      fi.Size(),
		MediaType: rockslide.BlobMediaType,
	}, nil
}

// SetDescriptor is a no-op; the driver already holds the truth.
func (bs *blobStatter) SetDescriptor(ctx context.Context, dgst digest.Digest, desc rockslide.BlobMetadata) error {
	return nil
}
