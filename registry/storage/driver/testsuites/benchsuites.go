package testsuites

import (
	"bytes"
	"context"
	"io"
	"path"
	"testing"
)

// BenchmarkPutGet measures PutContent followed by GetContent for files of
// the given size.
func (suite *DriverSuite) BenchmarkPutGet(b *testing.B, size int64) {
	b.SetBytes(size)
	parentDir := randomPath(2)
	defer func() {
		b.StopTimer()
		_ = suite.StorageDriver.Delete(suite.ctx, parentDir)
	}()

	contents := randomContents(size)
	for i := 0; i < b.N; i++ {
		filename := path.Join(parentDir, randomFilename(16))
		if err := suite.StorageDriver.PutContent(suite.ctx, filename, contents); err != nil {
			b.Fatal(err)
		}
		if _, err := suite.StorageDriver.GetContent(suite.ctx, filename); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkStream measures Writer followed by Reader for files of the given
// size.
func (suite *DriverSuite) BenchmarkStream(b *testing.B, size int64) {
	b.SetBytes(size)
	parentDir := randomPath(2)
	defer func() {
		b.StopTimer()
		_ = suite.StorageDriver.Delete(suite.ctx, parentDir)
	}()

	contents := randomContents(size)
	for i := 0; i < b.N; i++ {
		filename := path.Join(parentDir, randomFilename(16))
		w, err := suite.StorageDriver.Writer(suite.ctx, filename, false)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := io.Copy(w, bytes.NewReader(contents)); err != nil {
			b.Fatal(err)
		}
		if err := w.Commit(suite.ctx); err != nil {
			b.Fatal(err)
		}
		if err := w.Close(); err != nil {
			b.Fatal(err)
		}

		rc, err := suite.StorageDriver.Reader(suite.ctx, filename, 0)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := io.Copy(io.Discard, rc); err != nil {
			b.Fatal(err)
		}
		rc.Close()
	}
}

// NewBenchmarkSuite builds a driver for use by benchmarks outside suite.Run.
func NewBenchmarkSuite(b *testing.B, constructor DriverConstructor) *DriverSuite {
	d, err := constructor()
	if err != nil {
		b.Fatal(err)
	}
	s := &DriverSuite{Constructor: constructor, StorageDriver: d}
	s.ctx = context.Background()
	return s
}
