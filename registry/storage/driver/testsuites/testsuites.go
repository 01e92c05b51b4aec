// Package testsuites holds the behaviour every storage driver must share,
// expressed as a testify suite that driver packages run against themselves.
package testsuites

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
)

// DriverConstructor builds the driver under test.
type DriverConstructor func() (storagedriver.StorageDriver, error)

// Driver runs the conformance suite against the driver returned by
// constructor.
func Driver(t *testing.T, constructor DriverConstructor) {
	suite.Run(t, &DriverSuite{Constructor: constructor})
}

// DriverSuite checks a storage driver against the StorageDriver contract.
type DriverSuite struct {
	suite.Suite
	Constructor DriverConstructor
	storagedriver.StorageDriver
	ctx context.Context
}

// SetupSuite builds the driver.
func (suite *DriverSuite) SetupSuite() {
	d, err := suite.Constructor()
	suite.Require().NoError(err)
	suite.StorageDriver = d
	suite.ctx = context.Background()
}

// TearDownTest removes everything a test left behind.
func (suite *DriverSuite) TearDownTest() {
	children, err := suite.StorageDriver.List(suite.ctx, "/")
	if err != nil {
		return
	}
	for _, child := range children {
		_ = suite.StorageDriver.Delete(suite.ctx, child)
	}
}

func (suite *DriverSuite) TestPutGetContent() {
	filename := randomPath(3)
	contents := randomContents(4096)

	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, filename, contents))

	got, err := suite.StorageDriver.GetContent(suite.ctx, filename)
	suite.Require().NoError(err)
	suite.Require().Equal(contents, got)

	// Overwrite with something shorter.
	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, filename, contents[:10]))
	got, err = suite.StorageDriver.GetContent(suite.ctx, filename)
	suite.Require().NoError(err)
	suite.Require().Equal(contents[:10], got)
}

func (suite *DriverSuite) TestGetNonexistent() {
	_, err := suite.StorageDriver.GetContent(suite.ctx, randomPath(2))
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)

	_, err = suite.StorageDriver.Stat(suite.ctx, randomPath(2))
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)
}

func (suite *DriverSuite) TestInvalidPaths() {
	for _, p := range []string{"", "/", "abc", "/abc/", "/abc//def", "/a b"} {
		err := suite.StorageDriver.PutContent(suite.ctx, p, []byte("x"))
		suite.Require().IsType(storagedriver.InvalidPathError{}, err, "path %q", p)
	}
}

func (suite *DriverSuite) TestWriterAppend() {
	filename := randomPath(3)
	first, second := randomContents(1000), randomContents(3000)

	w, err := suite.StorageDriver.Writer(suite.ctx, filename, false)
	suite.Require().NoError(err)
	_, err = w.Write(first)
	suite.Require().NoError(err)
	suite.Require().EqualValues(len(first), w.Size())
	suite.Require().NoError(w.Commit(suite.ctx))
	suite.Require().NoError(w.Close())

	w, err = suite.StorageDriver.Writer(suite.ctx, filename, true)
	suite.Require().NoError(err)
	suite.Require().EqualValues(len(first), w.Size())
	_, err = io.Copy(w, bytes.NewReader(second))
	suite.Require().NoError(err)
	suite.Require().EqualValues(len(first)+len(second), w.Size())
	suite.Require().NoError(w.Commit(suite.ctx))
	suite.Require().NoError(w.Close())

	got, err := suite.StorageDriver.GetContent(suite.ctx, filename)
	suite.Require().NoError(err)
	suite.Require().Equal(append(first, second...), got)

	fi, err := suite.StorageDriver.Stat(suite.ctx, filename)
	suite.Require().NoError(err)
	suite.Require().False(fi.IsDir())
	suite.Require().EqualValues(len(first)+len(second), fi.Size())
}

func (suite *DriverSuite) TestWriterCancel() {
	filename := randomPath(3)

	w, err := suite.StorageDriver.Writer(suite.ctx, filename, false)
	suite.Require().NoError(err)
	_, err = w.Write(randomContents(100))
	suite.Require().NoError(err)
	suite.Require().NoError(w.Cancel(suite.ctx))

	_, err = suite.StorageDriver.Stat(suite.ctx, filename)
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)
}

func (suite *DriverSuite) TestReaderOffset() {
	filename := randomPath(2)
	contents := randomContents(512)
	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, filename, contents))

	rc, err := suite.StorageDriver.Reader(suite.ctx, filename, 100)
	suite.Require().NoError(err)
	got, err := io.ReadAll(rc)
	rc.Close()
	suite.Require().NoError(err)
	suite.Require().Equal(contents[100:], got)

	rc, err = suite.StorageDriver.Reader(suite.ctx, filename, 512)
	suite.Require().NoError(err)
	got, err = io.ReadAll(rc)
	rc.Close()
	suite.Require().NoError(err)
	suite.Require().Empty(got)

	_, err = suite.StorageDriver.Reader(suite.ctx, filename, 513)
	suite.Require().IsType(storagedriver.InvalidOffsetError{}, err)

	_, err = suite.StorageDriver.Reader(suite.ctx, filename, -1)
	suite.Require().IsType(storagedriver.InvalidOffsetError{}, err)
}

func (suite *DriverSuite) TestList() {
	root := randomPath(1)
	var expected []string
	for i := 0; i < 5; i++ {
		child := path.Join(root, randomFilename(8))
		expected = append(expected, child)
		suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, path.Join(child, "data"), randomContents(8)))
	}
	sort.Strings(expected)

	got, err := suite.StorageDriver.List(suite.ctx, root)
	suite.Require().NoError(err)
	sort.Strings(got)
	suite.Require().Equal(expected, got)

	fi, err := suite.StorageDriver.Stat(suite.ctx, root)
	suite.Require().NoError(err)
	suite.Require().True(fi.IsDir())

	_, err = suite.StorageDriver.List(suite.ctx, path.Join(root, "missing"))
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)
}

func (suite *DriverSuite) TestMove() {
	source, dest := randomPath(3), randomPath(3)
	contents := randomContents(2048)

	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, source, contents))
	suite.Require().NoError(suite.StorageDriver.Move(suite.ctx, source, dest))

	got, err := suite.StorageDriver.GetContent(suite.ctx, dest)
	suite.Require().NoError(err)
	suite.Require().Equal(contents, got)

	_, err = suite.StorageDriver.GetContent(suite.ctx, source)
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)

	err = suite.StorageDriver.Move(suite.ctx, source, dest)
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)
}

func (suite *DriverSuite) TestMoveOverwrite() {
	source, dest := randomPath(3), randomPath(3)
	contents := randomContents(64)

	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, source, contents))
	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, dest, randomContents(128)))
	suite.Require().NoError(suite.StorageDriver.Move(suite.ctx, source, dest))

	got, err := suite.StorageDriver.GetContent(suite.ctx, dest)
	suite.Require().NoError(err)
	suite.Require().Equal(contents, got)
}

func (suite *DriverSuite) TestDelete() {
	dir := randomPath(2)
	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, path.Join(dir, "a"), randomContents(8)))
	suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, path.Join(dir, "b", "c"), randomContents(8)))

	suite.Require().NoError(suite.StorageDriver.Delete(suite.ctx, dir))

	_, err := suite.StorageDriver.Stat(suite.ctx, path.Join(dir, "b", "c"))
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)

	err = suite.StorageDriver.Delete(suite.ctx, dir)
	suite.Require().True(storagedriver.IsNotFound(err), "unexpected error: %v", err)
}

// TestConcurrentMoveVisibility checks that a reader racing a Move never
// sees a partial destination.
func (suite *DriverSuite) TestConcurrentMoveVisibility() {
	contents := randomContents(1 << 20)
	dest := randomPath(3)

	var g errgroup.Group
	var once sync.Once
	for i := 0; i < 4; i++ {
		source := randomPath(3)
		suite.Require().NoError(suite.StorageDriver.PutContent(suite.ctx, source, contents))
		g.Go(func() error {
			return suite.StorageDriver.Move(suite.ctx, source, dest)
		})
	}
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			got, err := suite.StorageDriver.GetContent(suite.ctx, dest)
			if storagedriver.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			if !bytes.Equal(got, contents) {
				once.Do(func() { suite.T().Errorf("observed partial content (%d bytes)", len(got)) })
			}
		}
		return nil
	})
	suite.Require().NoError(g.Wait())
}

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomFilename(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

func randomPath(depth int) string {
	p := "/"
	for i := 0; i < depth; i++ {
		p = path.Join(p, randomFilename(8))
	}
	return p
}

func randomContents(length int64) []byte {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
