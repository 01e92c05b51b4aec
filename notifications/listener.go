package notifications

import (
	"context"
	"io"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
)

// ManifestListener describes a set of methods for listening to events related to manifests.
type ManifestListener interface {
	ManifestPushed(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error
	ManifestPulled(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error
}

// BlobListener describes a listener that can respond to layer related events.
type BlobListener interface {
	BlobPushed(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error
	BlobPulled(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error
}

// Listener combines all repository events into a single interface.
type Listener interface {
	ManifestListener
	BlobListener
}

// ListenManifests dispatches successful stores and fetches on ms to the
// listener.
func ListenManifests(ms rockslide.ManifestService, listener Listener) rockslide.ManifestService {
	return &manifestServiceListener{ManifestService: ms, listener: listener}
}

type manifestServiceListener struct {
	rockslide.ManifestService
	listener Listener
}

func (msl *manifestServiceListener) Put(ctx context.Context, loc rockslide.ImageLocation, reference, mediaType string, payload []byte) (rockslide.Manifest, error) {
	m, err := msl.ManifestService.Put(ctx, loc, reference, mediaType, payload)
	if err == nil {
		if err := msl.listener.ManifestPushed(ctx, loc, m, tagOf(reference)); err != nil {
			dcontext.GetLogger(ctx).Errorf("error dispatching manifest push to listener: %v", err)
		}
	}
	return m, err
}

func (msl *manifestServiceListener) Get(ctx context.Context, loc rockslide.ImageLocation, reference string) (rockslide.Manifest, error) {
	m, err := msl.ManifestService.Get(ctx, loc, reference)
	if err == nil {
		if err := msl.listener.ManifestPulled(ctx, loc, m, tagOf(reference)); err != nil {
			dcontext.GetLogger(ctx).Errorf("error dispatching manifest pull to listener: %v", err)
		}
	}
	return m, err
}

// tagOf returns reference unless it is a digest.
func tagOf(reference string) string {
	if _, err := digest.Parse(reference); err == nil {
		return ""
	}
	return reference
}

// ListenBlobs dispatches blob reads under loc to the listener. Stat is not
// reported.
func ListenBlobs(bp rockslide.BlobProvider, loc rockslide.ImageLocation, listener Listener) rockslide.BlobProvider {
	return &blobServiceListener{BlobProvider: bp, loc: loc, listener: listener}
}

type blobServiceListener struct {
	rockslide.BlobProvider
	loc      rockslide.ImageLocation
	listener Listener
}

func (bsl *blobServiceListener) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	p, err := bsl.BlobProvider.Get(ctx, dgst)
	if err == nil {
		bsl.pulled(ctx, dgst)
	}
	return p, err
}

func (bsl *blobServiceListener) Open(ctx context.Context, dgst digest.Digest) (io.ReadSeekCloser, error) {
	rc, err := bsl.BlobProvider.Open(ctx, dgst)
	if err == nil {
		bsl.pulled(ctx, dgst)
	}
	return rc, err
}

func (bsl *blobServiceListener) pulled(ctx context.Context, dgst digest.Digest) {
	desc, err := bsl.Stat(ctx, dgst)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("error resolving descriptor in blob listener: %v", err)
		return
	}
	if err := bsl.listener.BlobPulled(ctx, bsl.loc, desc); err != nil {
		dcontext.GetLogger(ctx).Errorf("error dispatching layer pull to listener: %v", err)
	}
}

// ListenUploads dispatches blobs finalized under loc to the listener.
func ListenUploads(um rockslide.UploadManager, loc rockslide.ImageLocation, listener Listener) rockslide.UploadManager {
	return &uploadListener{UploadManager: um, loc: loc, listener: listener}
}

type uploadListener struct {
	rockslide.UploadManager
	loc      rockslide.ImageLocation
	listener Listener
}

func (ul *uploadListener) Finalize(ctx context.Context, id string, claimed digest.Digest) (rockslide.BlobMetadata, error) {
	desc, err := ul.UploadManager.Finalize(ctx, id, claimed)
	if err == nil {
		if err := ul.listener.BlobPushed(ctx, ul.loc, desc); err != nil {
			dcontext.GetLogger(ctx).Errorf("error dispatching blob push to listener: %v", err)
		}
	}
	return desc, err
}
