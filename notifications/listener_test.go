package notifications

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/registry/storage"
	"github.com/rockslide/rockslide/registry/storage/driver/inmemory"
)

func TestListener(t *testing.T) {
	ctx := context.Background()
	reg, err := storage.NewRegistry(ctx, inmemory.New())
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}

	tl := &testListener{ops: make(map[string]int)}
	uploads := ListenUploads(reg.Uploads(), loc, tl)
	blobs := ListenBlobs(reg.Blobs(), loc, tl)
	manifests := ListenManifests(reg.Manifests(), tl)

	content := []byte("some layer content")
	dgst := digest.FromBytes(content)

	status, err := uploads.Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}
	if _, err := uploads.Append(ctx, status.ID, bytes.NewReader(content)); err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}
	if _, err := uploads.Finalize(ctx, status.ID, dgst); err != nil {
		t.Fatalf("unexpected error finalizing: %v", err)
	}

	// A failed finalize is not reported.
	status, err = uploads.Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}
	if _, err := uploads.Finalize(ctx, status.ID, dgst); err == nil {
		t.Fatalf("expected a digest mismatch for an empty upload")
	}

	rc, err := blobs.Open(ctx, dgst)
	if err != nil {
		t.Fatalf("unexpected error opening blob: %v", err)
	}
	if _, err := io.Copy(io.Discard, rc); err != nil {
		t.Fatalf("unexpected error reading blob: %v", err)
	}
	rc.Close()

	if _, err := blobs.Stat(ctx, dgst); err != nil {
		t.Fatalf("unexpected error stating blob: %v", err)
	}

	config := []byte(`{}`)
	configDesc, err := uploadAll(ctx, uploads, config)
	if err != nil {
		t.Fatalf("unexpected error pushing config: %v", err)
	}
	m := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json",` +
		`"config":{"mediaType":"application/vnd.oci.image.config.v1+json","digest":"` + configDesc.Digest.String() + `","size":2},` +
		`"layers":[{"mediaType":"application/vnd.oci.image.layer.v1.tar","digest":"` + dgst.String() + `","size":18}]}`)
	stored, err := manifests.Put(ctx, loc, "latest", "", m)
	if err != nil {
		t.Fatalf("unexpected error putting manifest: %v", err)
	}
	if _, err := manifests.Get(ctx, loc, stored.Digest.String()); err != nil {
		t.Fatalf("unexpected error getting manifest: %v", err)
	}
	if _, err := manifests.Get(ctx, loc, "missing"); err == nil {
		t.Fatalf("expected an error for an unknown tag")
	}

	expectedOps := map[string]int{
		"blob:push":     2,
		"blob:pull":     1,
		"manifest:push": 1,
		"manifest:pull": 1,
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	for op, count := range expectedOps {
		if tl.ops[op] != count {
			t.Fatalf("expected %d %q events, got %d", count, op, tl.ops[op])
		}
	}
	if tl.tags["manifest:push"] != "latest" {
		t.Fatalf("push by tag not reported with its tag: %q", tl.tags["manifest:push"])
	}
	if tl.tags["manifest:pull"] != "" {
		t.Fatalf("pull by digest reported a tag: %q", tl.tags["manifest:pull"])
	}
}

func uploadAll(ctx context.Context, um rockslide.UploadManager, p []byte) (rockslide.BlobMetadata, error) {
	status, err := um.Begin(ctx)
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}
	if _, err := um.Append(ctx, status.ID, bytes.NewReader(p)); err != nil {
		return rockslide.BlobMetadata{}, err
	}
	return um.Finalize(ctx, status.ID, digest.FromBytes(p))
}

type testListener struct {
	mu   sync.Mutex
	ops  map[string]int
	tags map[string]string
}

func (tl *testListener) record(op, tag string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.ops[op]++
	if tl.tags == nil {
		tl.tags = make(map[string]string)
	}
	tl.tags[op] = tag
}

func (tl *testListener) ManifestPushed(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error {
	tl.record("manifest:push", tag)
	return nil
}

func (tl *testListener) ManifestPulled(ctx context.Context, loc rockslide.ImageLocation, m rockslide.Manifest, tag string) error {
	tl.record("manifest:pull", tag)
	return nil
}

func (tl *testListener) BlobPushed(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error {
	tl.record("blob:push", "")
	return nil
}

func (tl *testListener) BlobPulled(ctx context.Context, loc rockslide.ImageLocation, desc rockslide.BlobMetadata) error {
	tl.record("blob:pull", "")
	return nil
}
