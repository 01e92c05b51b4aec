package digest

import (
	_ "crypto/sha256" // registers the hash used by Algorithm
	"hash"
)

// Digester hashes content incrementally. Bytes may be written in any number
// of chunks; Digest may be called at any point and reflects everything
// written so far.
type Digester struct {
	hash    hash.Hash
	written int64
}

// NewDigester returns an empty Digester.
func NewDigester() *Digester {
	return &Digester{hash: Algorithm.Hash()}
}

// Write adds p to the running hash. It never fails.
func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.hash.Write(p)
	d.written += int64(n)
	return n, err
}

// Size returns the number of bytes hashed.
func (d *Digester) Size() int64 {
	return d.written
}

// Digest returns the digest of the bytes written so far.
func (d *Digester) Digest() Digest {
	var sum [Size]byte
	copy(sum[:], d.hash.Sum(nil))
	return New(sum)
}
