// Package filesystem provides a storage driver rooted in a local directory.
package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/mitchellh/mapstructure"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/base"
	"github.com/rockslide/rockslide/registry/storage/driver/factory"
)

const (
	driverName = "filesystem"

	// DefaultRootDirectory is used when no rootdirectory parameter is set.
	DefaultRootDirectory = "./rockslide-storage"
)

// DriverParameters configures the filesystem driver.
type DriverParameters struct {
	RootDirectory string `mapstructure:"rootdirectory"`
}

func init() {
	factory.Register(driverName, &filesystemDriverFactory{})
}

type filesystemDriverFactory struct{}

func (factory *filesystemDriverFactory) Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return FromParameters(parameters)
}

type driver struct {
	rootDirectory string
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver backed by a local filesystem. All
// paths are relative to the root directory.
type Driver struct {
	baseEmbed
}

// FromParameters constructs a Driver from a parameter map. Optional keys:
// rootdirectory.
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := DriverParameters{RootDirectory: DefaultRootDirectory}
	if parameters != nil {
		if err := mapstructure.WeakDecode(parameters, &params); err != nil {
			return nil, fmt.Errorf("filesystem: invalid parameters: %w", err)
		}
	}
	if params.RootDirectory == "" {
		return nil, errors.New("filesystem: rootdirectory must not be empty")
	}
	return New(params), nil
}

// New constructs a Driver for params.
func New(params DriverParameters) *Driver {
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				StorageDriver: &driver{rootDirectory: params.RootDirectory},
			},
		},
	}
}

func (d *driver) Name() string {
	return driverName
}

func (d *driver) fullPath(subPath string) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(subPath))
}

func (d *driver) GetContent(ctx context.Context, subPath string) ([]byte, error) {
	rc, err := d.Reader(ctx, subPath, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}

func (d *driver) PutContent(ctx context.Context, subPath string, contents []byte) error {
	writer, err := d.Writer(ctx, subPath, false)
	if err != nil {
		return err
	}
	defer writer.Close()

	if _, err := io.Copy(writer, bytes.NewReader(contents)); err != nil {
		if cErr := writer.Cancel(ctx); cErr != nil {
			return errors.Join(err, cErr)
		}
		return err
	}
	return writer.Commit(ctx)
}

func (d *driver) Reader(ctx context.Context, subPath string, offset int64) (io.ReadCloser, error) {
	file, err := os.Open(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, err
	}

	seekPos, err := file.Seek(offset, io.SeekStart)
	if err != nil {
		file.Close()
		return nil, err
	} else if seekPos < offset {
		file.Close()
		return nil, storagedriver.InvalidOffsetError{Path: subPath, Offset: offset}
	}

	if fi, err := file.Stat(); err == nil && offset > fi.Size() {
		file.Close()
		return nil, storagedriver.InvalidOffsetError{Path: subPath, Offset: offset}
	}

	return file, nil
}

func (d *driver) Writer(ctx context.Context, subPath string, append bool) (storagedriver.FileWriter, error) {
	fullPath := d.fullPath(subPath)
	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0o777); err != nil {
		return nil, err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if !append {
		flags |= os.O_TRUNC
	}
	fp, err := os.OpenFile(fullPath, flags, 0o666)
	if err != nil {
		return nil, err
	}

	var offset int64
	if append {
		n, err := fp.Seek(0, io.SeekEnd)
		if err != nil {
			fp.Close()
			return nil, err
		}
		offset = n
	}

	return newFileWriter(fp, offset), nil
}

func (d *driver) Stat(ctx context.Context, subPath string) (storagedriver.FileInfo, error) {
	fi, err := os.Stat(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, err
	}

	return fileInfo{path: subPath, FileInfo: fi}, nil
}

func (d *driver) List(ctx context.Context, subPath string) ([]string, error) {
	entries, err := os.ReadDir(d.fullPath(subPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PathNotFoundError{Path: subPath}
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, path.Join(subPath, entry.Name()))
	}
	sort.Strings(keys)
	return keys, nil
}

// Move uses rename(2), which replaces destPath atomically on POSIX
// filesystems.
func (d *driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	source := d.fullPath(sourcePath)
	dest := d.fullPath(destPath)

	if _, err := os.Stat(source); os.IsNotExist(err) {
		return storagedriver.PathNotFoundError{Path: sourcePath}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o777); err != nil {
		return err
	}

	return os.Rename(source, dest)
}

func (d *driver) Delete(ctx context.Context, subPath string) error {
	fullPath := d.fullPath(subPath)

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return storagedriver.PathNotFoundError{Path: subPath}
		}
		return err
	}

	return os.RemoveAll(fullPath)
}

type fileInfo struct {
	os.FileInfo
	path string
}

var _ storagedriver.FileInfo = fileInfo{}

func (fi fileInfo) Path() string {
	return fi.path
}

func (fi fileInfo) Size() int64 {
	if fi.IsDir() {
		return 0
	}
	return fi.FileInfo.Size()
}

type fileWriter struct {
	file      *os.File
	size      int64
	bw        *bufio.Writer
	closed    bool
	committed bool
	cancelled bool
}

func newFileWriter(file *os.File, size int64) *fileWriter {
	return &fileWriter{
		file: file,
		size: size,
		bw:   bufio.NewWriter(file),
	}
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, errors.New("already closed")
	} else if fw.committed {
		return 0, errors.New("already committed")
	} else if fw.cancelled {
		return 0, errors.New("already cancelled")
	}
	n, err := fw.bw.Write(p)
	fw.size += int64(n)
	return n, err
}

func (fw *fileWriter) Size() int64 {
	return fw.size
}

func (fw *fileWriter) Close() error {
	if fw.closed {
		return errors.New("already closed")
	}

	if err := fw.bw.Flush(); err != nil {
		return err
	}
	if err := fw.file.Sync(); err != nil {
		return err
	}
	if err := fw.file.Close(); err != nil {
		return err
	}
	fw.closed = true
	return nil
}

func (fw *fileWriter) Cancel(ctx context.Context) error {
	if fw.closed {
		return errors.New("already closed")
	}

	fw.cancelled = true
	fw.file.Close()
	return os.Remove(fw.file.Name())
}

func (fw *fileWriter) Commit(ctx context.Context) error {
	if fw.closed {
		return errors.New("already closed")
	} else if fw.committed {
		return errors.New("already committed")
	} else if fw.cancelled {
		return errors.New("already cancelled")
	}

	if err := fw.bw.Flush(); err != nil {
		return err
	}
	if err := fw.file.Sync(); err != nil {
		return err
	}

	fw.committed = true
	return nil
}
