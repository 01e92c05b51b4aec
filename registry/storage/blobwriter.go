package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// blobWriter is the private staging area behind one upload session. Bytes
// are only ever appended, and every byte goes to the file writer before the
// digester, so the digester never covers content the store did not accept.
//
// A blobWriter is not safe for concurrent use; the upload manager
// serializes access per session.
type blobWriter struct {
	driver storagedriver.StorageDriver

	id        string
	startedAt time.Time
	path      string

	fileWriter storagedriver.FileWriter
	digester   *digest.Digester

	committed bool
	cancelled bool
}

// newBlobWriter creates the staging area for id: an empty data file and a
// startedat marker.
func newBlobWriter(ctx context.Context, driver storagedriver.StorageDriver, id string, startedAt time.Time) (*blobWriter, error) {
	dataPath, err := pathFor(uploadDataPathSpec{id: id})
	if err != nil {
		return nil, err
	}
	startedAtPath, err := pathFor(uploadStartedAtPathSpec{id: id})
	if err != nil {
		return nil, err
	}

	if err := driver.PutContent(ctx, startedAtPath, []byte(startedAt.UTC().Format(time.RFC3339))); err != nil {
		return nil, err
	}

	fw, err := driver.Writer(ctx, dataPath, false)
	if err != nil {
		return nil, err
	}

	return &blobWriter{
		driver:     driver,
		id:         id,
		startedAt:  startedAt,
		path:       dataPath,
		fileWriter: fw,
		digester:   digest.NewDigester(),
	}, nil
}

// ID returns the session id owning this staging area.
func (bw *blobWriter) ID() string {
	return bw.id
}

// Size returns the number of bytes staged so far.
func (bw *blobWriter) Size() int64 {
	return bw.fileWriter.Size()
}

func (bw *blobWriter) Write(p []byte) (int, error) {
	n, err := bw.fileWriter.Write(p)
	bw.digester.Write(p[:n])
	return n, err
}

// ReadFrom streams r into staging. A TeeReader rather than a MultiWriter
// keeps the file writer ahead of the digester.
func (bw *blobWriter) ReadFrom(r io.Reader) (int64, error) {
	tee := io.TeeReader(r, bw.fileWriter)
	return io.Copy(bw.digester, tee)
}

// commit flushes staged content and returns its canonical digest. When the
// digester did not see every staged byte, the content is re-read from the
// driver and hashed from scratch.
func (bw *blobWriter) commit(ctx context.Context) (digest.Digest, int64, error) {
	if bw.cancelled {
		return digest.Digest{}, 0, fmt.Errorf("upload %s was cancelled", bw.id)
	}

	if !bw.committed {
		if err := bw.fileWriter.Commit(ctx); err != nil {
			return digest.Digest{}, 0, err
		}
		if err := bw.fileWriter.Close(); err != nil {
			return digest.Digest{}, 0, err
		}
		bw.committed = true
	}

	fi, err := bw.driver.Stat(ctx, bw.path)
	if err != nil {
		return digest.Digest{}, 0, err
	}
	if fi.IsDir() {
		return digest.Digest{}, 0, fmt.Errorf("unexpected directory at upload location %q", bw.path)
	}
	size := fi.Size()

	if bw.digester.Size() == size {
		return bw.digester.Digest(), size, nil
	}

	dcontext.GetLoggerWithField(ctx, "upload.id", bw.id).
		Warnf("staged size %d differs from hashed size %d, rehashing", size, bw.digester.Size())

	fr, err := newFileReader(ctx, bw.driver, bw.path, size)
	if err != nil {
		return digest.Digest{}, 0, err
	}
	defer fr.Close()

	canonical, err := digest.FromReader(fr)
	if err != nil {
		return digest.Digest{}, 0, err
	}
	return canonical, size, nil
}

// cancel discards everything written and removes the staging area.
func (bw *blobWriter) cancel(ctx context.Context) error {
	if !bw.committed && !bw.cancelled {
		if err := bw.fileWriter.Cancel(ctx); err != nil {
			dcontext.GetLoggerWithField(ctx, "upload.id", bw.id).WithError(err).Warn("error cancelling staged writer")
		}
	}
	bw.cancelled = true
	return bw.removeResources(ctx)
}

// removeResources deletes the staging directory. Missing resources are not
// an error.
func (bw *blobWriter) removeResources(ctx context.Context) error {
	return removeUpload(ctx, bw.driver, bw.id)
}

func removeUpload(ctx context.Context, driver storagedriver.StorageDriver, id string) error {
	dirPath, err := pathFor(uploadPathSpec{id: id})
	if err != nil {
		return err
	}

	if err := driver.Delete(ctx, dirPath); err != nil && !storagedriver.IsNotFound(err) {
		dcontext.GetLogger(ctx).Errorf("unable to delete upload resources %q: %v", dirPath, err)
		return err
	}
	return nil
}
