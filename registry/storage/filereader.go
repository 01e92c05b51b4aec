package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

const fileReaderBufferSize = 4 << 20

// fileReader adapts a driver path of known size to io.ReadSeekCloser. The
// underlying driver reader is opened lazily and reopened after a seek.
type fileReader struct {
	driver storagedriver.StorageDriver
	ctx    context.Context

	path string
	size int64

	rc     io.ReadCloser
	brd    *bufio.Reader
	offset int64
	err    error
}

func newFileReader(ctx context.Context, driver storagedriver.StorageDriver, path string, size int64) (*fileReader, error) {
	return &fileReader{
		ctx:    ctx,
		driver: driver,
		path:   path,
		size:   size,
	}, nil
}

func (fr *fileReader) Read(p []byte) (int, error) {
	if fr.err != nil {
		return 0, fr.err
	}

	rd, err := fr.reader()
	if err != nil {
		return 0, err
	}

	n, err := rd.Read(p)
	fr.offset += int64(n)

	// Drivers may report EOF late; trust the known size.
	if err == nil && fr.offset >= fr.size {
		err = io.EOF
	}
	return n, err
}

func (fr *fileReader) Seek(offset int64, whence int) (int64, error) {
	if fr.err != nil {
		return 0, fr.err
	}

	newOffset := fr.offset
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekEnd:
		newOffset = fr.size + offset
	case io.SeekStart:
		newOffset = offset
	default:
		return fr.offset, fmt.Errorf("invalid whence %d", whence)
	}

	if newOffset < 0 {
		return fr.offset, errors.New("cannot seek to negative position")
	}

	if fr.offset != newOffset {
		fr.reset()
	}
	fr.offset = newOffset
	return fr.offset, nil
}

func (fr *fileReader) Close() error {
	fr.err = errors.New("fileReader: closed")
	return fr.closeReader()
}

func (fr *fileReader) reader() (io.Reader, error) {
	if fr.brd != nil {
		return fr.brd, nil
	}

	if fr.offset >= fr.size {
		return eofReader{}, nil
	}

	rc, err := fr.driver.Reader(fr.ctx, fr.path, fr.offset)
	if err != nil {
		return nil, err
	}

	fr.rc = rc
	fr.brd = bufio.NewReaderSize(fr.rc, fileReaderBufferSize)
	return fr.brd, nil
}

func (fr *fileReader) reset() {
	_ = fr.closeReader()
}

func (fr *fileReader) closeReader() error {
	if fr.rc == nil {
		return nil
	}
	err := fr.rc.Close()
	fr.rc = nil
	fr.brd = nil
	return err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
