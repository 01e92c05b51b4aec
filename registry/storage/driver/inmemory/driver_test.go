package inmemory

import (
	"testing"

	storagedriver "github.com/rockslide/rockslide/registry/storage/driver"
	"github.com/rockslide/rockslide/registry/storage/driver/testsuites"
)

func newDriverConstructor() (storagedriver.StorageDriver, error) {
	return New(), nil
}

func TestInMemoryDriverSuite(t *testing.T) {
	testsuites.Driver(t, newDriverConstructor)
}

func BenchmarkInMemoryDriverPutGet1KB(b *testing.B) {
	testsuites.NewBenchmarkSuite(b, newDriverConstructor).BenchmarkPutGet(b, 1024)
}

func BenchmarkInMemoryDriverStream1MB(b *testing.B) {
	testsuites.NewBenchmarkSuite(b, newDriverConstructor).BenchmarkStream(b, 1<<20)
}
