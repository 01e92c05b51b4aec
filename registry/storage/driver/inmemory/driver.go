// Package inmemory provides a storage driver backed by process memory. It
// is intended for tests and throwaway registries.
package inmemory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/base"
	"github.com/rockslide/rockslide/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

type inMemoryDriverFactory struct{}

func (factory *inMemoryDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type file struct {
	data []byte
	mod  time.Time
}

type driver struct {
	mu    sync.RWMutex
	files map[string]*file
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by a map. Directories are
// implied by the paths of the files below them.
type Driver struct {
	baseEmbed
}

var _ storagedriver.StorageDriver = &Driver{}

// New constructs an empty Driver.
func New() *Driver {
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				StorageDriver: &driver{files: make(map[string]*file)},
			},
		},
	}
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[path]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}
	return bytes.Clone(f.data), nil
}

func (d *driver) PutContent(ctx context.Context, path string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isDir(path) {
		return fmt.Errorf("%q is a directory", path)
	}
	d.files[path] = &file{data: bytes.Clone(content), mod: time.Now()}
	return nil
}

func (d *driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[path]
	if !ok {
		if d.isDir(path) {
			return nil, fmt.Errorf("%q is a directory", path)
		}
		return nil, storagedriver.PathNotFoundError{Path: path}
	}
	if offset > int64(len(f.data)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
	}

	// Readers see a snapshot; later appends do not affect them.
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.data[offset:]))), nil
}

func (d *driver) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isDir(path) {
		return nil, fmt.Errorf("%q is a directory", path)
	}

	f, ok := d.files[path]
	if !ok {
		if append {
			return nil, storagedriver.PathNotFoundError{Path: path}
		}
		f = &file{}
		d.files[path] = f
	}
	if !append {
		f.data = nil
	}
	f.mod = time.Now()

	return &writer{d: d, path: path, f: f}, nil
}

func (d *driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if f, ok := d.files[path]; ok {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:    path,
			Size:    int64(len(f.data)),
			ModTime: f.mod,
		}}, nil
	}
	if path == "/" || d.isDir(path) {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:  path,
			IsDir: true,
		}}, nil
	}
	return nil, storagedriver.PathNotFoundError{Path: path}
}

func (d *driver) List(ctx context.Context, path string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := make(map[string]struct{})
	for p := range d.files {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		child, _, _ := strings.Cut(rest, "/")
		seen[prefix+child] = struct{}{}
	}

	if len(seen) == 0 && path != "/" {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}

	children := make([]string, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	sort.Strings(children)
	return children, nil
}

// Move renames a file or a directory tree under a single lock, so readers
// never observe a partial move.
func (d *driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.files[sourcePath]; ok {
		d.deleteTree(destPath)
		delete(d.files, sourcePath)
		f.mod = time.Now()
		d.files[destPath] = f
		return nil
	}

	prefix := sourcePath + "/"
	moved := false
	for p, f := range d.files {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			if !moved {
				d.deleteTree(destPath)
				moved = true
			}
			delete(d.files, p)
			d.files[destPath+"/"+rest] = f
		}
	}
	if !moved {
		return storagedriver.PathNotFoundError{Path: sourcePath}
	}
	return nil
}

func (d *driver) Delete(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.deleteTree(path) {
		return storagedriver.PathNotFoundError{Path: path}
	}
	return nil
}

// isDir must be called with mu held.
func (d *driver) isDir(path string) bool {
	prefix := path + "/"
	for p := range d.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// deleteTree must be called with mu held.
func (d *driver) deleteTree(path string) bool {
	found := false
	if _, ok := d.files[path]; ok {
		delete(d.files, path)
		found = true
	}
	prefix := path + "/"
	for p := range d.files {
		if strings.HasPrefix(p, prefix) {
			delete(d.files, p)
			found = true
		}
	}
	return found
}

type writer struct {
	d         *driver
	path      string
	f         *file
	closed    bool
	committed bool
	cancelled bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("already closed")
	} else if w.committed {
		return 0, errors.New("already committed")
	} else if w.cancelled {
		return 0, errors.New("already cancelled")
	}

	w.d.mu.Lock()
	defer w.d.mu.Unlock()

	w.f.data = append(w.f.data, p...)
	w.f.mod = time.Now()
	return len(p), nil
}

func (w *writer) Size() int64 {
	w.d.mu.RLock()
	defer w.d.mu.RUnlock()

	return int64(len(w.f.data))
}

func (w *writer) Close() error {
	if w.closed {
		return errors.New("already closed")
	}
	w.closed = true
	return nil
}

func (w *writer) Cancel(ctx context.Context) error {
	if w.closed {
		return errors.New("already closed")
	} else if w.committed {
		return errors.New("already committed")
	}
	w.cancelled = true

	w.d.mu.Lock()
	defer w.d.mu.Unlock()

	if w.d.files[w.path] == w.f {
		delete(w.d.files, w.path)
	}
	return nil
}

func (w *writer) Commit(ctx context.Context) error {
	if w.closed {
		return errors.New("already closed")
	} else if w.committed {
		return errors.New("already committed")
	} else if w.cancelled {
		return errors.New("already cancelled")
	}
	w.committed = true
	return nil
}
