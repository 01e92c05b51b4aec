package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/opencontainers/image-spec/specs-go"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage/driver/inmemory"
)

type manifestTestEnv struct {
	ctx context.Context
	reg *Registry
	loc rockslide.ImageLocation
}

func newManifestTestEnv(t *testing.T) *manifestTestEnv {
	loc, err := rockslide.ParseImageLocation("foo", "bar")
	require.NoError(t, err)
	return &manifestTestEnv{
		ctx: context.Background(),
		reg: newTestRegistry(t, inmemory.New()),
		loc: loc,
	}
}

func (env *manifestTestEnv) descriptor(t *testing.T, mediaType string, p []byte) v1.Descriptor {
	desc, err := env.reg.blobs.Put(env.ctx, p)
	require.NoError(t, err)
	return v1.Descriptor{MediaType: mediaType, Digest: desc.Digest.OCI(), Size: desc.Size}
}

func (env *manifestTestEnv) imageManifest(t *testing.T, layers int) []byte {
	m := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config:    env.descriptor(t, v1.MediaTypeImageConfig, []byte(`{"architecture":"amd64"}`)),
	}
	for i := 0; i < layers; i++ {
		m.Layers = append(m.Layers, env.descriptor(t, v1.MediaTypeImageLayerGzip, randomContent(t, 512)))
	}
	p, err := json.Marshal(m)
	require.NoError(t, err)
	return p
}

func TestManifestPutGetByTag(t *testing.T) {
	env := newManifestTestEnv(t)
	payload := env.imageManifest(t, 2)

	stored, err := env.reg.Manifests().Put(env.ctx, env.loc, "latest", v1.MediaTypeImageManifest, payload)
	require.NoError(t, err)
	require.Equal(t, digest.FromBytes(payload), stored.Digest)

	byTag, err := env.reg.Manifests().Get(env.ctx, env.loc, "latest")
	require.NoError(t, err)
	require.Equal(t, payload, byTag.Payload)
	require.Equal(t, v1.MediaTypeImageManifest, byTag.MediaType)

	byDigest, err := env.reg.Manifests().Get(env.ctx, env.loc, stored.Digest.String())
	require.NoError(t, err)
	require.Equal(t, stored.Digest, byDigest.Digest)

	// The manifest bytes are themselves a published blob.
	_, err = env.reg.Blobs().Stat(env.ctx, stored.Digest)
	require.NoError(t, err)
}

func TestManifestPutByDigest(t *testing.T) {
	env := newManifestTestEnv(t)
	payload := env.imageManifest(t, 1)
	dgst := digest.FromBytes(payload)

	_, err := env.reg.Manifests().Put(env.ctx, env.loc, dgst.String(), "", payload)
	require.NoError(t, err)

	tags, err := env.reg.Manifests().Tags(env.ctx, env.loc)
	require.NoError(t, err)
	require.Empty(t, tags)

	wrong := digest.FromBytes([]byte("not the manifest"))
	_, err = env.reg.Manifests().Put(env.ctx, env.loc, wrong.String(), "", payload)
	var mismatch rockslide.ErrManifestDigestMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, wrong, mismatch.Reference)
	require.Equal(t, dgst, mismatch.Computed)
}

func TestManifestMissingBlob(t *testing.T) {
	env := newManifestTestEnv(t)

	missing := digest.FromBytes([]byte("never pushed"))
	m := v1.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageManifest,
		Config:    env.descriptor(t, v1.MediaTypeImageConfig, []byte(`{}`)),
		Layers: []v1.Descriptor{
			{MediaType: v1.MediaTypeImageLayerGzip, Digest: missing.OCI(), Size: 12},
			// Foreign layers are not checked.
			{MediaType: v1.MediaTypeImageLayerGzip, Digest: digest.FromBytes([]byte("elsewhere")).OCI(), URLs: []string{"https://example.com/layer"}},
		},
	}
	payload, err := json.Marshal(m)
	require.NoError(t, err)

	_, err = env.reg.Manifests().Put(env.ctx, env.loc, "latest", "", payload)
	var verification rockslide.ErrManifestVerification
	require.ErrorAs(t, err, &verification)
	require.Len(t, verification, 1)
	require.Equal(t, rockslide.ErrManifestBlobUnknown{Digest: missing}, verification[0])

	_, err = env.reg.Manifests().Get(env.ctx, env.loc, "latest")
	var unknown rockslide.ErrManifestUnknown
	require.ErrorAs(t, err, &unknown)
}

func TestManifestIndex(t *testing.T) {
	env := newManifestTestEnv(t)
	child := env.imageManifest(t, 1)
	childDigest := digest.FromBytes(child)

	idx := v1.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: v1.MediaTypeImageIndex,
		Manifests: []v1.Descriptor{{MediaType: v1.MediaTypeImageManifest, Digest: childDigest.OCI(), Size: int64(len(child))}},
	}
	payload, err := json.Marshal(idx)
	require.NoError(t, err)

	// The child must be stored in this repository first.
	_, err = env.reg.Manifests().Put(env.ctx, env.loc, "multi", "", payload)
	var verification rockslide.ErrManifestVerification
	require.ErrorAs(t, err, &verification)

	_, err = env.reg.Manifests().Put(env.ctx, env.loc, childDigest.String(), "", child)
	require.NoError(t, err)

	stored, err := env.reg.Manifests().Put(env.ctx, env.loc, "multi", "", payload)
	require.NoError(t, err)
	require.Equal(t, v1.MediaTypeImageIndex, stored.MediaType)

	got, err := env.reg.Manifests().Get(env.ctx, env.loc, "multi")
	require.NoError(t, err)
	require.Equal(t, v1.MediaTypeImageIndex, got.MediaType)
}

func TestManifestRejects(t *testing.T) {
	env := newManifestTestEnv(t)
	valid := env.imageManifest(t, 0)

	for _, testcase := range []struct {
		name      string
		ref       string
		mediaType string
		payload   []byte
		check     func(t *testing.T, err error)
	}{
		{
			name:    "not json",
			ref:     "latest",
			payload: []byte("{"),
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrManifestInvalid))
			},
		},
		{
			name:    "schema version 1",
			ref:     "latest",
			payload: []byte(`{"schemaVersion":1}`),
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrManifestInvalid))
			},
		},
		{
			name:      "unsupported media type",
			ref:       "latest",
			mediaType: "application/vnd.example+json",
			payload:   []byte(`{"schemaVersion":2}`),
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrManifestInvalid))
			},
		},
		{
			name:      "content type disagrees with payload",
			ref:       "latest",
			mediaType: v1.MediaTypeImageIndex,
			payload:   valid,
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrManifestInvalid))
			},
		},
		{
			name:    "invalid tag",
			ref:     "-leading-dash",
			payload: valid,
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrTagInvalid))
			},
		},
		{
			name:    "malformed digest",
			ref:     "sha256:" + strings.Repeat("A", 64),
			payload: valid,
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrDigestReferenceInvalid))
			},
		},
		{
			name:    "unsupported digest algorithm",
			ref:     "sha512:" + strings.Repeat("a", 128),
			payload: valid,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, digest.ErrDigestUnsupported)
			},
		},
		{
			name:    "too large",
			ref:     "latest",
			payload: make([]byte, MaxManifestSize+1),
			check: func(t *testing.T, err error) {
				require.ErrorAs(t, err, new(rockslide.ErrManifestInvalid))
			},
		},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			_, err := env.reg.Manifests().Put(env.ctx, env.loc, testcase.ref, testcase.mediaType, testcase.payload)
			require.Error(t, err)
			testcase.check(t, err)
		})
	}
}

func TestManifestTags(t *testing.T) {
	env := newManifestTestEnv(t)

	_, err := env.reg.Manifests().Tags(env.ctx, env.loc)
	require.ErrorAs(t, err, new(rockslide.ErrRepositoryUnknown))

	payload := env.imageManifest(t, 1)
	for _, tag := range []string{"v2", "latest", "v1"} {
		_, err := env.reg.Manifests().Put(env.ctx, env.loc, tag, "", payload)
		require.NoError(t, err)
	}

	tags, err := env.reg.Manifests().Tags(env.ctx, env.loc)
	require.NoError(t, err)
	require.Equal(t, []string{"latest", "v1", "v2"}, tags)

	// Retagging moves the tag.
	other := env.imageManifest(t, 2)
	_, err = env.reg.Manifests().Put(env.ctx, env.loc, "latest", "", other)
	require.NoError(t, err)
	got, err := env.reg.Manifests().Get(env.ctx, env.loc, "latest")
	require.NoError(t, err)
	require.Equal(t, digest.FromBytes(other), got.Digest)
}

func TestManifestUnknownRevision(t *testing.T) {
	env := newManifestTestEnv(t)
	payload := env.imageManifest(t, 0)

	// Present as a blob but never stored as a manifest of this repository.
	_, err := env.reg.blobs.Put(env.ctx, payload)
	require.NoError(t, err)

	_, err = env.reg.Manifests().Get(env.ctx, env.loc, digest.FromBytes(payload).String())
	var unknown rockslide.ErrManifestUnknownRevision
	require.True(t, errors.As(err, &unknown), "unexpected error: %v", err)
}
