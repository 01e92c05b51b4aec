package rockslide

import (
	"context"

	"github.com/rockslide/rockslide/digest"
)

// Manifest is a stored manifest: its exact bytes, their digest and the media
// type it was accepted under.
type Manifest struct {
	Digest    digest.Digest
	MediaType string
	Payload   []byte
}

// ManifestService stores manifests per image location. A reference is
// either a digest string or a tag.
type ManifestService interface {
	// Put validates payload and stores it under reference. mediaType may
	// be empty, in which case it is taken from the payload.
	Put(ctx context.Context, loc ImageLocation, reference, mediaType string, payload []byte) (Manifest, error)

	// Get resolves reference and returns the manifest it names.
	Get(ctx context.Context, loc ImageLocation, reference string) (Manifest, error)

	// Tags lists the tags of loc in lexical order.
	Tags(ctx context.Context, loc ImageLocation) ([]string, error)
}
