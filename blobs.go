package rockslide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/distribution/reference"

	"github.com/rockslide/rockslide/digest"
)

// BlobMediaType is the content type reported for every blob.
const BlobMediaType = "application/octet-stream"

// ImageLocation names an image namespace within the registry as a
// repository and image name pair. It carries no state of its own.
type ImageLocation struct {
	Repository string
	Image      string
}

// ParseImageLocation validates repository and image as the two halves of a
// distribution repository name.
func ParseImageLocation(repository, image string) (ImageLocation, error) {
	loc := ImageLocation{Repository: repository, Image: image}
	if _, err := reference.WithName(loc.Name()); err != nil {
		return ImageLocation{}, ErrRepositoryNameInvalid{Name: loc.Name(), Reason: err}
	}
	// WithName takes an uppercase first component for a registry domain.
	if !pathComponentRegexp.MatchString(repository) || !pathComponentRegexp.MatchString(image) {
		return ImageLocation{}, ErrRepositoryNameInvalid{Name: loc.Name(), Reason: errNameComponent}
	}
	return loc, nil
}

var (
	pathComponentRegexp = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*$`)
	errNameComponent    = errors.New("name components must be lowercase alphanumerics joined by separators")
)

// Name returns the full repository name, "repository/image".
func (l ImageLocation) Name() string {
	return l.Repository + "/" + l.Image
}

func (l ImageLocation) String() string {
	return l.Name()
}

// BlobMetadata describes a published blob. It only exists for content that
// is present in the blob store and never changes once created.
type BlobMetadata struct {
	Digest    digest.Digest
	Size      int64
	MediaType string
}

func (m BlobMetadata) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.Digest, m.Size)
}

// BlobStatter answers whether a blob exists. A missing blob is reported as
// ErrBlobUnknown.
type BlobStatter interface {
	Stat(ctx context.Context, dgst digest.Digest) (BlobMetadata, error)
}

// BlobDescriptorService is a BlobStatter that can also record metadata,
// typically a cache in front of the blob store.
type BlobDescriptorService interface {
	BlobStatter
	SetDescriptor(ctx context.Context, dgst digest.Digest, desc BlobMetadata) error
}

// BlobProvider reads published blobs.
type BlobProvider interface {
	BlobStatter

	// Get returns the whole content of a small blob.
	Get(ctx context.Context, dgst digest.Digest) ([]byte, error)

	// Open returns a seekable reader over a published blob.
	Open(ctx context.Context, dgst digest.Digest) (io.ReadSeekCloser, error)
}

// UploadStatus is a snapshot of an upload session.
type UploadStatus struct {
	ID        string
	Size      int64
	StartedAt time.Time
}

// UploadManager drives upload sessions from begin to finalize.
type UploadManager interface {
	// Begin opens a new session with nothing written.
	Begin(ctx context.Context) (UploadStatus, error)

	// Append streams r onto the end of the session and returns the new
	// total size.
	Append(ctx context.Context, id string, r io.Reader) (int64, error)

	// AppendAt is Append with a precondition: offset must equal the bytes
	// written so far, or ErrBlobUploadInvalidOffset is returned.
	AppendAt(ctx context.Context, id string, offset int64, r io.Reader) (int64, error)

	// Status reports the session without changing it.
	Status(ctx context.Context, id string) (UploadStatus, error)

	// Finalize verifies the session's content against claimed and publishes
	// it. The session is gone afterwards whatever the outcome.
	Finalize(ctx context.Context, id string, claimed digest.Digest) (BlobMetadata, error)

	// Cancel abandons the session and releases its staging storage.
	Cancel(ctx context.Context, id string) error
}
