package rockslide

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rockslide/rockslide/digest"
)

var (
	// ErrBlobUnknown is returned when a blob is not in the store. It is a
	// normal outcome, not a fault.
	ErrBlobUnknown = errors.New("unknown blob")

	// ErrBlobUploadUnknown is returned for a session id that was never
	// issued or that has already been finalized or cancelled.
	ErrBlobUploadUnknown = errors.New("blob upload unknown")

	// ErrUnsupported is returned for operations this registry does not
	// implement.
	ErrUnsupported = errors.New("operation unsupported")
)

// ErrBlobInvalidDigest is returned when the content of an upload does not
// hash to the digest the client claimed.
type ErrBlobInvalidDigest struct {
	Digest   digest.Digest
	Computed digest.Digest
}

func (err ErrBlobInvalidDigest) Error() string {
	return fmt.Sprintf("invalid digest for referenced layer: %v, content does not match digest (computed %v)",
		err.Digest, err.Computed)
}

// ErrDigestReferenceInvalid is returned when a manifest reference has the
// shape of a digest but does not parse as one.
type ErrDigestReferenceInvalid struct {
	Reference string
	Reason    error
}

func (err ErrDigestReferenceInvalid) Error() string {
	return fmt.Sprintf("invalid digest reference %q: %v", err.Reference, err.Reason)
}

func (err ErrDigestReferenceInvalid) Unwrap() error {
	return err.Reason
}

// ErrBlobUploadInvalidOffset is returned when an append does not start at
// the current end of the session.
type ErrBlobUploadInvalidOffset struct {
	Expected int64
	Offset   int64
}

func (err ErrBlobUploadInvalidOffset) Error() string {
	return fmt.Sprintf("upload append at offset %d, expected %d", err.Offset, err.Expected)
}

// ErrRepositoryUnknown is returned if the named repository is not known by
// the registry.
type ErrRepositoryUnknown struct {
	Name string
}

func (err ErrRepositoryUnknown) Error() string {
	return fmt.Sprintf("unknown repository name=%s", err.Name)
}

// ErrRepositoryNameInvalid is returned when a repository name is not valid.
type ErrRepositoryNameInvalid struct {
	Name   string
	Reason error
}

func (err ErrRepositoryNameInvalid) Error() string {
	return fmt.Sprintf("repository name %q invalid: %v", err.Name, err.Reason)
}

func (err ErrRepositoryNameInvalid) Unwrap() error {
	return err.Reason
}

// ErrManifestUnknown is returned when a tag does not resolve to a manifest.
type ErrManifestUnknown struct {
	Name string
	Tag  string
}

func (err ErrManifestUnknown) Error() string {
	return fmt.Sprintf("unknown manifest name=%s tag=%s", err.Name, err.Tag)
}

// ErrManifestUnknownRevision is returned when a manifest digest is not
// stored in the repository.
type ErrManifestUnknownRevision struct {
	Name     string
	Revision digest.Digest
}

func (err ErrManifestUnknownRevision) Error() string {
	return fmt.Sprintf("unknown manifest name=%s revision=%s", err.Name, err.Revision)
}

// ErrManifestBlobUnknown is returned when a manifest references content
// that has not been pushed.
type ErrManifestBlobUnknown struct {
	Digest digest.Digest
}

func (err ErrManifestBlobUnknown) Error() string {
	return fmt.Sprintf("unknown blob %v on manifest", err.Digest)
}

// ErrManifestInvalid is returned when a manifest payload is rejected.
type ErrManifestInvalid struct {
	Reason string
}

func (err ErrManifestInvalid) Error() string {
	return "manifest invalid: " + err.Reason
}

// ErrManifestDigestMismatch is returned when a manifest is pushed by digest
// and its content hashes to something else.
type ErrManifestDigestMismatch struct {
	Reference digest.Digest
	Computed  digest.Digest
}

func (err ErrManifestDigestMismatch) Error() string {
	return fmt.Sprintf("manifest digest %v does not match reference %v", err.Computed, err.Reference)
}

// ErrTagInvalid is returned when a manifest reference is neither a digest
// nor a valid tag.
type ErrTagInvalid struct {
	Tag string
}

func (err ErrTagInvalid) Error() string {
	return fmt.Sprintf("invalid tag %q", err.Tag)
}

// ErrManifestVerification collects every problem found while verifying a
// manifest's references.
type ErrManifestVerification []error

func (errs ErrManifestVerification) Error() string {
	var parts []string
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("errors verifying manifest: %v", strings.Join(parts, ","))
}
