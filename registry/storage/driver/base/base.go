// Package base wraps a storage driver with the checks every driver needs:
// path validation, offset bounds, debug timing logs and the
// registry_storage_action_seconds metric.
//
// Drivers embed Base around their private implementation:
//
//	type baseEmbed struct{ base.Base }
//
//	type Driver struct{ baseEmbed }
//
// so that all calls pass through Base before reaching the implementation.
package base

import (
	"context"
	"io"
	"time"

	"github.com/rockslide/rockslide/internal/dcontext"
	prometheus "github.com/rockslide/rockslide/metrics"
	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

var storageAction = prometheus.StorageNamespace.NewLabeledTimer("action", "The number of seconds that the storage action takes", "driver", "action")

// Base provides path and bounds checking around a StorageDriver.
type Base struct {
	storagedriver.StorageDriver
}

func (base *Base) setDriverName(e error) error {
	switch actual := e.(type) {
	case nil:
		return nil
	case storagedriver.PathNotFoundError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.InvalidPathError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.InvalidOffsetError:
		actual.DriverName = base.StorageDriver.Name()
		return actual
	case storagedriver.Error:
		return actual
	default:
		return storagedriver.Error{DriverName: base.StorageDriver.Name(), Detail: e}
	}
}

func (base *Base) observe(ctx context.Context, action string) func() {
	start := time.Now()
	return func() {
		storageAction.WithValues(base.Name(), action).UpdateSince(start)
		dcontext.GetLogger(ctx).WithField("duration", time.Since(start)).Debugf("Storage.Driver.%s", action)
	}
}

// GetContent wraps GetContent of the underlying driver.
func (base *Base) GetContent(ctx context.Context, path string) ([]byte, error) {
	if !storagedriver.ValidPath(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "GetContent")()

	b, e := base.StorageDriver.GetContent(ctx, path)
	return b, base.setDriverName(e)
}

// PutContent wraps PutContent of the underlying driver.
func (base *Base) PutContent(ctx context.Context, path string, content []byte) error {
	if !storagedriver.ValidPath(path) {
		return storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "PutContent")()

	return base.setDriverName(base.StorageDriver.PutContent(ctx, path, content))
}

// Reader wraps Reader of the underlying driver.
func (base *Base) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: base.Name()}
	}
	if !storagedriver.ValidPath(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "Reader")()

	rc, e := base.StorageDriver.Reader(ctx, path, offset)
	return rc, base.setDriverName(e)
}

// Writer wraps Writer of the underlying driver.
func (base *Base) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	if !storagedriver.ValidPath(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "Writer")()

	w, e := base.StorageDriver.Writer(ctx, path, append)
	return w, base.setDriverName(e)
}

// Stat wraps Stat of the underlying driver.
func (base *Base) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	if !storagedriver.ValidListPath(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "Stat")()

	fi, e := base.StorageDriver.Stat(ctx, path)
	return fi, base.setDriverName(e)
}

// List wraps List of the underlying driver.
func (base *Base) List(ctx context.Context, path string) ([]string, error) {
	if !storagedriver.ValidListPath(path) {
		return nil, storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "List")()

	out, e := base.StorageDriver.List(ctx, path)
	return out, base.setDriverName(e)
}

// Move wraps Move of the underlying driver.
func (base *Base) Move(ctx context.Context, sourcePath string, destPath string) error {
	if !storagedriver.ValidPath(sourcePath) {
		return storagedriver.InvalidPathError{Path: sourcePath, DriverName: base.Name()}
	} else if !storagedriver.ValidPath(destPath) {
		return storagedriver.InvalidPathError{Path: destPath, DriverName: base.Name()}
	}
	defer base.observe(ctx, "Move")()

	return base.setDriverName(base.StorageDriver.Move(ctx, sourcePath, destPath))
}

// Delete wraps Delete of the underlying driver.
func (base *Base) Delete(ctx context.Context, path string) error {
	if !storagedriver.ValidPath(path) {
		return storagedriver.InvalidPathError{Path: path, DriverName: base.Name()}
	}
	defer base.observe(ctx, "Delete")()

	return base.setDriverName(base.StorageDriver.Delete(ctx, path))
}
