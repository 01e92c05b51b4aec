package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// MaxManifestSize is the largest manifest payload accepted.
const MaxManifestSize = 4 << 20

// manifestStore keeps manifest bytes in the blob store and records, per
// repository, which digests are revisions and which tags point at them.
type manifestStore struct {
	driver storagedriver.StorageDriver
	blobs  *blobStore
}

var _ rockslide.ManifestService = &manifestStore{}

// Put verifies payload and stores it under reference, which is either the
// payload's own digest or a tag.
func (ms *manifestStore) Put(ctx context.Context, loc rockslide.ImageLocation, ref, mediaType string, payload []byte) (rockslide.Manifest, error) {
	dcontext.GetLogger(ctx).Debug("(*manifestStore).Put")

	if len(payload) > MaxManifestSize {
		return rockslide.Manifest{}, rockslide.ErrManifestInvalid{Reason: fmt.Sprintf("payload exceeds %d bytes", MaxManifestSize)}
	}

	computed := digest.FromBytes(payload)

	tag, err := parseManifestReference(loc, ref)
	if err != nil {
		return rockslide.Manifest{}, err
	}
	if tag == "" {
		if claimed, _ := digest.Parse(ref); claimed != computed {
			return rockslide.Manifest{}, rockslide.ErrManifestDigestMismatch{Reference: claimed, Computed: computed}
		}
	}

	var env manifestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return rockslide.Manifest{}, rockslide.ErrManifestInvalid{Reason: err.Error()}
	}
	if env.SchemaVersion != 2 {
		return rockslide.Manifest{}, rockslide.ErrManifestInvalid{Reason: fmt.Sprintf("unsupported schemaVersion %d", env.SchemaVersion)}
	}

	if mediaType == "" {
		mediaType = sniffMediaType(payload)
	} else if env.MediaType != "" && env.MediaType != mediaType {
		return rockslide.Manifest{}, rockslide.ErrManifestInvalid{
			Reason: fmt.Sprintf("mediaType in manifest %q does not match Content-Type %q", env.MediaType, mediaType),
		}
	}

	switch kindOf(mediaType) {
	case kindImage:
		err = ms.verifyImage(ctx, payload)
	case kindIndex:
		err = ms.verifyIndex(ctx, loc, payload)
	default:
		err = rockslide.ErrManifestInvalid{Reason: fmt.Sprintf("unsupported media type %q", mediaType)}
	}
	if err != nil {
		return rockslide.Manifest{}, err
	}

	if _, err := ms.blobs.Put(ctx, payload); err != nil {
		dcontext.GetLogger(ctx).Errorf("error putting payload into blobstore: %v", err)
		return rockslide.Manifest{}, err
	}

	revisionPath, err := pathFor(manifestRevisionLinkPathSpec{name: loc.Name(), revision: computed})
	if err != nil {
		return rockslide.Manifest{}, err
	}
	if err := writeLink(ctx, ms.driver, revisionPath, computed); err != nil {
		return rockslide.Manifest{}, err
	}

	if tag != "" {
		tagPath, err := pathFor(manifestTagCurrentPathSpec{name: loc.Name(), tag: tag})
		if err != nil {
			return rockslide.Manifest{}, err
		}
		if err := writeLink(ctx, ms.driver, tagPath, computed); err != nil {
			return rockslide.Manifest{}, err
		}
	}

	return rockslide.Manifest{
		Digest:    computed,
		MediaType: mediaType,
		Payload:   payload,
	}, nil
}

// Get resolves ref within loc.
func (ms *manifestStore) Get(ctx context.Context, loc rockslide.ImageLocation, ref string) (rockslide.Manifest, error) {
	tag, err := parseManifestReference(loc, ref)
	if err != nil {
		return rockslide.Manifest{}, err
	}

	var revision digest.Digest
	if tag != "" {
		tagPath, err := pathFor(manifestTagCurrentPathSpec{name: loc.Name(), tag: tag})
		if err != nil {
			return rockslide.Manifest{}, err
		}
		revision, err = readLink(ctx, ms.driver, tagPath)
		if err != nil {
			if storagedriver.IsNotFound(err) {
				return rockslide.Manifest{}, rockslide.ErrManifestUnknown{Name: loc.Name(), Tag: tag}
			}
			return rockslide.Manifest{}, err
		}
	} else {
		revision, _ = digest.Parse(ref)
	}

	if ok, err := ms.hasRevision(ctx, loc, revision); err != nil {
		return rockslide.Manifest{}, err
	} else if !ok {
		return rockslide.Manifest{}, rockslide.ErrManifestUnknownRevision{Name: loc.Name(), Revision: revision}
	}

	payload, err := ms.blobs.Get(ctx, revision)
	if err != nil {
		if errors.Is(err, rockslide.ErrBlobUnknown) {
			return rockslide.Manifest{}, rockslide.ErrManifestUnknownRevision{Name: loc.Name(), Revision: revision}
		}
		return rockslide.Manifest{}, err
	}

	return rockslide.Manifest{
		Digest:    revision,
		MediaType: sniffMediaType(payload),
		Payload:   payload,
	}, nil
}

func (ms *manifestStore) hasRevision(ctx context.Context, loc rockslide.ImageLocation, revision digest.Digest) (bool, error) {
	p, err := pathFor(manifestRevisionLinkPathSpec{name: loc.Name(), revision: revision})
	if err != nil {
		return false, err
	}
	if _, err := ms.driver.Stat(ctx, p); err != nil {
		if storagedriver.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// verifyImage checks that the config and every layer are present. Foreign
// layers, which carry URLs, are fetched from elsewhere and are skipped.
func (ms *manifestStore) verifyImage(ctx context.Context, payload []byte) error {
	var m v1.Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return rockslide.ErrManifestInvalid{Reason: err.Error()}
	}

	var errs rockslide.ErrManifestVerification
	for _, desc := range append([]v1.Descriptor{m.Config}, m.Layers...) {
		if len(desc.URLs) > 0 {
			continue
		}

		dgst, err := digest.FromOCI(desc.Digest)
		if err != nil {
			errs = append(errs, rockslide.ErrManifestInvalid{Reason: fmt.Sprintf("reference %q: %v", desc.Digest, err)})
			continue
		}

		if _, err := ms.blobs.Stat(ctx, dgst); err != nil {
			if !errors.Is(err, rockslide.ErrBlobUnknown) {
				errs = append(errs, err)
			}
			errs = append(errs, rockslide.ErrManifestBlobUnknown{Digest: dgst})
		}
	}

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// verifyIndex checks that every child manifest is stored in loc.
func (ms *manifestStore) verifyIndex(ctx context.Context, loc rockslide.ImageLocation, payload []byte) error {
	var idx v1.Index
	if err := json.Unmarshal(payload, &idx); err != nil {
		return rockslide.ErrManifestInvalid{Reason: err.Error()}
	}

	var errs rockslide.ErrManifestVerification
	for _, desc := range idx.Manifests {
		dgst, err := digest.FromOCI(desc.Digest)
		if err != nil {
			errs = append(errs, rockslide.ErrManifestInvalid{Reason: fmt.Sprintf("reference %q: %v", desc.Digest, err)})
			continue
		}

		ok, err := ms.hasRevision(ctx, loc, dgst)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			errs = append(errs, rockslide.ErrManifestBlobUnknown{Digest: dgst})
		}
	}

	if len(errs) != 0 {
		return errs
	}
	return nil
}

// parseManifestReference returns the tag named by ref, or "" when ref is a
// digest.
func parseManifestReference(loc rockslide.ImageLocation, ref string) (string, error) {
	// tags never contain a colon
	if strings.Contains(ref, ":") {
		if _, err := digest.Parse(ref); err != nil {
			return "", rockslide.ErrDigestReferenceInvalid{Reference: ref, Reason: err}
		}
		return "", nil
	}

	named, err := reference.WithName(loc.Name())
	if err != nil {
		return "", rockslide.ErrRepositoryNameInvalid{Name: loc.Name(), Reason: err}
	}
	if _, err := reference.WithTag(named, ref); err != nil {
		return "", rockslide.ErrTagInvalid{Tag: ref}
	}
	return ref, nil
}
