// Package driver defines the storage backend interface used by the blob
// store and upload manager.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// StorageDriver is a hierarchical key/value store. Paths are slash
// separated, absolute and restricted to PathRegexp.
type StorageDriver interface {
	// Name returns the human-readable name of the driver.
	Name() string

	// GetContent returns the contents of path. Only suitable for small
	// objects.
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent replaces the contents of path.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader returns a reader positioned at offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer returns a FileWriter for path. With append set the writer
	// continues an existing file, otherwise the file is truncated.
	Writer(ctx context.Context, path string, append bool) (FileWriter, error)

	// Stat describes path. Directories are reported with IsDir true.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the direct children of path as full paths.
	List(ctx context.Context, path string) ([]string, error)

	// Move renames sourcePath to destPath, replacing destPath. The rename
	// is atomic from the point of view of Stat and Reader on destPath:
	// they observe either the old state or the complete new object.
	Move(ctx context.Context, sourcePath string, destPath string) error

	// Delete recursively removes path.
	Delete(ctx context.Context, path string) error
}

// FileWriter streams content to a path.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written to this FileWriter,
	// including those present before an append.
	Size() int64

	// Cancel removes any written content.
	Cancel(ctx context.Context) error

	// Commit flushes content to durable storage. No further writes are
	// accepted.
	Commit(ctx context.Context) error
}

// FileInfo describes a stored object or directory.
type FileInfo interface {
	Path() string
	Size() int64
	ModTime() time.Time
	IsDir() bool
}

// FileInfoFields is the plain data behind FileInfoInternal.
type FileInfoFields struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileInfoInternal implements FileInfo for drivers.
type FileInfoInternal struct {
	FileInfoFields
}

var _ FileInfo = FileInfoInternal{}

func (fi FileInfoInternal) Path() string       { return fi.FileInfoFields.Path }
func (fi FileInfoInternal) Size() int64        { return fi.FileInfoFields.Size }
func (fi FileInfoInternal) ModTime() time.Time { return fi.FileInfoFields.ModTime }
func (fi FileInfoInternal) IsDir() bool        { return fi.FileInfoFields.IsDir }

// PathRegexp is the regular expression every storage path must match.
var PathRegexp = regexp.MustCompile(`^(/[A-Za-z0-9._-]+)+$`)

// ErrUnsupportedMethod may be returned by drivers for optional operations.
var ErrUnsupportedMethod = errors.New("unsupported method")

// PathNotFoundError is returned when a path does not exist.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (err PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: Path not found: %s", err.DriverName, err.Path)
}

// InvalidPathError is returned for paths that do not match PathRegexp.
type InvalidPathError struct {
	Path       string
	DriverName string
}

func (err InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path: %s", err.DriverName, err.Path)
}

// InvalidOffsetError is returned when reading beyond the end of a file or
// at a negative offset.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (err InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset: %d for path: %s", err.DriverName, err.Offset, err.Path)
}

// Error wraps a backend failure with the driver's name.
type Error struct {
	DriverName string
	Detail     error
}

func (err Error) Error() string {
	return fmt.Sprintf("%s: %s", err.DriverName, err.Detail)
}

func (err Error) Unwrap() error {
	return err.Detail
}

// IsNotFound reports whether err is, or wraps, a PathNotFoundError.
func IsNotFound(err error) bool {
	var notFound PathNotFoundError
	return errors.As(err, &notFound)
}

// ValidPath reports whether path is acceptable to a driver. The root "/" is
// accepted for List only, see ValidListPath.
func ValidPath(path string) bool {
	return PathRegexp.MatchString(path)
}

// ValidListPath is ValidPath with the root allowed.
func ValidListPath(path string) bool {
	return path == "/" || ValidPath(path)
}

// Parent returns the directory containing path.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
