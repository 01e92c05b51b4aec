package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/filesystem"
	"github.com/rockslide/rockslide/registry/storage/driver/inmemory"
)

func newTestRegistry(t *testing.T, driver storagedriver.StorageDriver) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), driver)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	return reg
}

func randomContent(t *testing.T, size int) []byte {
	t.Helper()
	p := make([]byte, size)
	if _, err := rand.Read(p); err != nil {
		t.Fatalf("error generating content: %v", err)
	}
	return p
}

// uploadBlob pushes content through a session in chunks and finalizes it
// under claimed.
func uploadBlob(ctx context.Context, um rockslide.UploadManager, content []byte, chunk int, claimed digest.Digest) (rockslide.BlobMetadata, error) {
	status, err := um.Begin(ctx)
	if err != nil {
		return rockslide.BlobMetadata{}, err
	}

	for offset := 0; offset < len(content); offset += chunk {
		end := min(offset+chunk, len(content))
		if _, err := um.Append(ctx, status.ID, bytes.NewReader(content[offset:end])); err != nil {
			return rockslide.BlobMetadata{}, err
		}
	}
	return um.Finalize(ctx, status.ID, claimed)
}

func assertNoStaging(t *testing.T, driver storagedriver.StorageDriver) {
	t.Helper()
	p, _ := pathFor(uploadsPathSpec{})
	entries, err := driver.List(context.Background(), p)
	if err != nil && !storagedriver.IsNotFound(err) {
		t.Fatalf("unexpected error listing uploads: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging areas left behind: %v", entries)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	for name, driver := range map[string]storagedriver.StorageDriver{
		"inmemory":   inmemory.New(),
		"filesystem": filesystem.New(filesystem.DriverParameters{RootDirectory: t.TempDir()}),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			reg := newTestRegistry(t, driver)
			content := randomContent(t, 1<<20+17)
			dgst := digest.FromBytes(content)

			if _, err := reg.Blobs().Stat(ctx, dgst); !errors.Is(err, rockslide.ErrBlobUnknown) {
				t.Fatalf("expected unknown blob before upload, got %v", err)
			}

			desc, err := uploadBlob(ctx, reg.Uploads(), content, 64<<10, dgst)
			if err != nil {
				t.Fatalf("unexpected error uploading: %v", err)
			}
			if desc.Digest != dgst || desc.Size != int64(len(content)) || desc.MediaType != rockslide.BlobMediaType {
				t.Fatalf("unexpected descriptor: %#v", desc)
			}

			stat, err := reg.Blobs().Stat(ctx, dgst)
			if err != nil {
				t.Fatalf("unexpected error statting published blob: %v", err)
			}
			if stat != desc {
				t.Fatalf("stat does not match publish: %v != %v", stat, desc)
			}

			rc, err := reg.Blobs().Open(ctx, dgst)
			if err != nil {
				t.Fatalf("unexpected error opening blob: %v", err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("unexpected error reading blob: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Fatalf("published content differs from uploaded content")
			}

			assertNoStaging(t, driver)
		})
	}
}

func TestUploadEmptyBlob(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, inmemory.New())

	status, err := reg.Uploads().Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}
	if status.Size != 0 {
		t.Fatalf("new session should be empty, has %d bytes", status.Size)
	}

	desc, err := reg.Uploads().Finalize(ctx, status.ID, digest.FromBytes(nil))
	if err != nil {
		t.Fatalf("unexpected error finalizing empty upload: %v", err)
	}
	if desc.Size != 0 {
		t.Fatalf("unexpected size: %d", desc.Size)
	}
}

func TestFinalizeDigestMismatch(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg := newTestRegistry(t, driver)

	content := []byte("some content")
	claimed := digest.FromBytes([]byte("other content"))

	status, err := reg.Uploads().Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}
	if _, err := reg.Uploads().Append(ctx, status.ID, bytes.NewReader(content)); err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}

	_, err = reg.Uploads().Finalize(ctx, status.ID, claimed)
	var invalid rockslide.ErrBlobInvalidDigest
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrBlobInvalidDigest, got %v", err)
	}
	if invalid.Digest != claimed || invalid.Computed != digest.FromBytes(content) {
		t.Fatalf("unexpected digests in error: %#v", invalid)
	}

	for _, dgst := range []digest.Digest{claimed, digest.FromBytes(content)} {
		if _, err := reg.Blobs().Stat(ctx, dgst); !errors.Is(err, rockslide.ErrBlobUnknown) {
			t.Fatalf("content visible under %v after mismatch: %v", dgst, err)
		}
	}

	// A failed finalize still ends the session.
	if _, err := reg.Uploads().Append(ctx, status.ID, strings.NewReader("more")); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload after failed finalize, got %v", err)
	}
	if _, err := reg.Uploads().Finalize(ctx, status.ID, digest.FromBytes(content)); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload on second finalize, got %v", err)
	}

	assertNoStaging(t, driver)
}

func TestFinalizeExistingDigest(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg := newTestRegistry(t, driver)

	content := randomContent(t, 4096)
	dgst := digest.FromBytes(content)

	for i := 0; i < 3; i++ {
		desc, err := uploadBlob(ctx, reg.Uploads(), content, 1000, dgst)
		if err != nil {
			t.Fatalf("upload %d: unexpected error: %v", i, err)
		}
		if desc.Digest != dgst {
			t.Fatalf("upload %d: unexpected digest %v", i, desc.Digest)
		}
	}

	assertNoStaging(t, driver)
}

func TestConcurrentFinalizeSameDigest(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg := newTestRegistry(t, driver)

	content := randomContent(t, 256<<10)
	dgst := digest.FromBytes(content)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := uploadBlob(ctx, reg.Uploads(), content, 32<<10, dgst)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent publish failed: %v", err)
	}

	p, err := reg.Blobs().Get(ctx, dgst)
	if err != nil {
		t.Fatalf("unexpected error reading blob: %v", err)
	}
	if !bytes.Equal(p, content) {
		t.Fatalf("store corrupted by concurrent publish")
	}
	assertNoStaging(t, driver)
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, filesystem.New(filesystem.DriverParameters{RootDirectory: t.TempDir()}))

	contents := make([][]byte, 8)
	for i := range contents {
		contents[i] = randomContent(t, 100<<10+i)
	}

	var g errgroup.Group
	for _, content := range contents {
		g.Go(func() error {
			_, err := uploadBlob(ctx, reg.Uploads(), content, 7<<10, digest.FromBytes(content))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent uploads failed: %v", err)
	}

	for _, content := range contents {
		p, err := reg.Blobs().Get(ctx, digest.FromBytes(content))
		if err != nil {
			t.Fatalf("unexpected error reading blob: %v", err)
		}
		if !bytes.Equal(p, content) {
			t.Fatalf("content mixed between sessions")
		}
	}
}

func TestAppendAt(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, inmemory.New())
	um := reg.Uploads()

	status, err := um.Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}

	n, err := um.AppendAt(ctx, status.ID, 0, strings.NewReader("hello "))
	if err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}
	if n != 6 {
		t.Fatalf("unexpected total: %d", n)
	}

	_, err = um.AppendAt(ctx, status.ID, 3, strings.NewReader("gap"))
	var offsetErr rockslide.ErrBlobUploadInvalidOffset
	if !errors.As(err, &offsetErr) {
		t.Fatalf("expected invalid offset, got %v", err)
	}
	if offsetErr.Expected != 6 || offsetErr.Offset != 3 {
		t.Fatalf("unexpected offset error: %#v", offsetErr)
	}

	// A rejected append leaves the session usable.
	if _, err := um.AppendAt(ctx, status.ID, 6, strings.NewReader("world")); err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}

	s, err := um.Status(ctx, status.ID)
	if err != nil {
		t.Fatalf("unexpected error getting status: %v", err)
	}
	if s.Size != 11 {
		t.Fatalf("unexpected size: %d", s.Size)
	}

	if _, err := um.Finalize(ctx, status.ID, digest.FromBytes([]byte("hello world"))); err != nil {
		t.Fatalf("unexpected error finalizing: %v", err)
	}
}

type failingReader struct {
	data []byte
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestAppendFailureAbandonsSession(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg := newTestRegistry(t, driver)
	um := reg.Uploads()

	status, err := um.Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}

	if _, err := um.Append(ctx, status.ID, &failingReader{data: []byte("partial")}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected read error, got %v", err)
	}

	if _, err := um.Status(ctx, status.ID); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected session to be abandoned, got %v", err)
	}
	assertNoStaging(t, driver)
}

func TestCancelUpload(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg := newTestRegistry(t, driver)
	um := reg.Uploads()

	status, err := um.Begin(ctx)
	if err != nil {
		t.Fatalf("unexpected error beginning upload: %v", err)
	}
	if _, err := um.Append(ctx, status.ID, strings.NewReader("abc")); err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}

	if err := um.Cancel(ctx, status.ID); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}
	if err := um.Cancel(ctx, status.ID); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload on second cancel, got %v", err)
	}
	if _, err := um.Finalize(ctx, status.ID, digest.FromBytes([]byte("abc"))); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload after cancel, got %v", err)
	}
	assertNoStaging(t, driver)
}

func TestUnknownSession(t *testing.T) {
	ctx := context.Background()
	um := newTestRegistry(t, inmemory.New()).Uploads()

	if _, err := um.Append(ctx, "does-not-exist", strings.NewReader("x")); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload, got %v", err)
	}
	if _, err := um.Status(ctx, "does-not-exist"); !errors.Is(err, rockslide.ErrBlobUploadUnknown) {
		t.Fatalf("expected unknown upload, got %v", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	um := newTestRegistry(t, inmemory.New()).Uploads()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		status, err := um.Begin(ctx)
		if err != nil {
			t.Fatalf("unexpected error beginning upload: %v", err)
		}
		if _, ok := seen[status.ID]; ok {
			t.Fatalf("duplicate session id %q", status.ID)
		}
		seen[status.ID] = struct{}{}
	}
}

func TestOpenSeek(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, inmemory.New())

	content := randomContent(t, 10000)
	dgst := digest.FromBytes(content)
	if _, err := uploadBlob(ctx, reg.Uploads(), content, len(content), dgst); err != nil {
		t.Fatalf("unexpected error uploading: %v", err)
	}

	rs, err := reg.Blobs().Open(ctx, dgst)
	if err != nil {
		t.Fatalf("unexpected error opening blob: %v", err)
	}
	defer rs.Close()

	if _, err := rs.Seek(5000, io.SeekStart); err != nil {
		t.Fatalf("unexpected error seeking: %v", err)
	}
	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if !bytes.Equal(got, content[5000:]) {
		t.Fatalf("unexpected content after seek")
	}

	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil || end != int64(len(content)) {
		t.Fatalf("unexpected seek to end: %d, %v", end, err)
	}
}

func TestOpenUnknownBlob(t *testing.T) {
	reg := newTestRegistry(t, inmemory.New())
	if _, err := reg.Blobs().Open(context.Background(), digest.FromBytes([]byte("nope"))); !errors.Is(err, rockslide.ErrBlobUnknown) {
		t.Fatalf("expected unknown blob, got %v", err)
	}
}
