// Package masterkey provides a Provider guarded by one shared secret. Any
// username is accepted together with the key. Without a key the provider is
// locked and rejects everything.
//
//	auth:
//	  masterkey:
//	    key: s3cret
package masterkey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/rockslide/rockslide/registry/auth"
)

// MasterKey is either locked or holds a key. The zero value is locked.
type MasterKey struct {
	key    [sha256.Size]byte
	hasKey bool
}

var _ auth.Provider = MasterKey{}

// Locked returns a MasterKey that rejects every credential.
func Locked() MasterKey {
	return MasterKey{}
}

// New returns a MasterKey holding key. An empty key yields Locked; an empty
// password would otherwise unlock the registry.
func New(key string) MasterKey {
	if key == "" {
		return Locked()
	}
	return MasterKey{key: sha256.Sum256([]byte(key)), hasKey: true}
}

// IsLocked reports whether mk has no key.
func (mk MasterKey) IsLocked() bool {
	return !mk.hasKey
}

// Verify compares password with the key in constant time. username is
// ignored.
func (mk MasterKey) Verify(ctx context.Context, username, password string) bool {
	if !mk.hasKey {
		return false
	}
	got := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare(mk.key[:], got[:]) == 1
}

func (mk MasterKey) String() string {
	if !mk.hasKey {
		return "MasterKey(locked)"
	}
	return "MasterKey(<redacted>)"
}

func newProvider(options map[string]interface{}) (auth.Provider, error) {
	key, present := options["key"]
	if !present || key == nil {
		return Locked(), nil
	}
	s, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf(`"key" must be a string for masterkey auth provider, got %T`, key)
	}
	return New(s), nil
}

func init() {
	auth.Register("masterkey", auth.InitFunc(newProvider))
}
