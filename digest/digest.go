// Package digest implements the content identifier used by the registry: a
// sha256 sum with the canonical text form "sha256:<64 lowercase hex>".
package digest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	godigest "github.com/opencontainers/go-digest"
)

const (
	// Algorithm is the only supported digest algorithm.
	Algorithm = godigest.SHA256

	// Size is the length in bytes of a raw digest.
	Size = 32

	prefix = string(Algorithm) + ":"
)

var (
	// ErrDigestInvalidFormat is returned when a string is not a canonical
	// sha256 digest.
	ErrDigestInvalidFormat = errors.New("invalid checksum digest format")

	// ErrDigestInvalidLength is returned when the hex portion of a digest is
	// not exactly 64 characters.
	ErrDigestInvalidLength = errors.New("invalid checksum digest length")

	// ErrDigestUnsupported is returned for any algorithm other than sha256.
	ErrDigestUnsupported = errors.New("unsupported digest algorithm")
)

// Digest is an immutable sha256 content identifier. The zero value is not a
// valid digest; obtain one from Parse, New, FromBytes or a Digester.
type Digest struct {
	sum   [Size]byte
	valid bool
}

// New returns the digest with the given raw sum.
func New(sum [Size]byte) Digest {
	return Digest{sum: sum, valid: true}
}

// Parse parses s in canonical form. Uppercase hex, other algorithms, the
// wrong number of hex characters and a missing prefix are all rejected.
func Parse(s string) (Digest, error) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		if i := bytes.IndexByte([]byte(s), ':'); i > 0 {
			return Digest{}, fmt.Errorf("%w: %q", ErrDigestUnsupported, s[:i])
		}
		return Digest{}, ErrDigestInvalidFormat
	}

	encoded := s[len(prefix):]
	if len(encoded) != hex.EncodedLen(Size) {
		return Digest{}, ErrDigestInvalidLength
	}

	var sum [Size]byte
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return Digest{}, ErrDigestInvalidFormat
		}
	}
	if _, err := hex.Decode(sum[:], []byte(encoded)); err != nil {
		return Digest{}, ErrDigestInvalidFormat
	}
	return New(sum), nil
}

// FromOCI converts a go-digest value, applying the same rules as Parse.
func FromOCI(d godigest.Digest) (Digest, error) {
	return Parse(d.String())
}

// FromReader hashes everything read from rd.
func FromReader(rd io.Reader) (Digest, error) {
	digester := NewDigester()
	if _, err := io.Copy(digester, rd); err != nil {
		return Digest{}, err
	}
	return digester.Digest(), nil
}

// FromBytes returns the digest of p.
func FromBytes(p []byte) Digest {
	digester := NewDigester()
	digester.Write(p)
	return digester.Digest()
}

// Sum returns the raw hash bytes.
func (d Digest) Sum() [Size]byte {
	return d.sum
}

// Hex returns the lowercase hex encoding of the sum.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.sum[:])
}

// String returns the canonical form, or "" for the zero value.
func (d Digest) String() string {
	if !d.valid {
		return ""
	}
	return prefix + d.Hex()
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return !d.valid
}

// OCI returns d as a go-digest value.
func (d Digest) OCI() godigest.Digest {
	return godigest.NewDigestFromEncoded(Algorithm, d.Hex())
}

// Compare orders digests byte-wise.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d.sum[:], other.sum[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse. Empty
// text yields the zero value, mirroring MarshalText.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
