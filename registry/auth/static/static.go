// Package static provides a Provider backed by a username to password table
// given inline in the configuration.
//
//	auth:
//	  static:
//	    users:
//	      alice: s3cret
//
// Passwords are compared in constant time, and a lookup for an unknown user
// costs the same as one for a known user.
package static

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/rockslide/rockslide/registry/auth"
)

// Provider verifies against a fixed credential table.
type Provider struct {
	users map[string][sha256.Size]byte
}

var _ auth.Provider = &Provider{}

// New returns a Provider for users, a map of username to password.
func New(users map[string]string) *Provider {
	p := &Provider{users: make(map[string][sha256.Size]byte, len(users))}
	for name, password := range users {
		p.users[name] = sha256.Sum256([]byte(password))
	}
	return p
}

// Verify reports whether password is the one configured for username.
// Both sides are hashed first so the comparison does not leak the length of
// the stored password.
func (p *Provider) Verify(ctx context.Context, username, password string) bool {
	want, known := p.users[username]
	got := sha256.Sum256([]byte(password))
	match := subtle.ConstantTimeCompare(want[:], got[:]) == 1
	return known && match
}

type options struct {
	Users map[string]string `mapstructure:"users"`
}

func newProvider(params map[string]interface{}) (auth.Provider, error) {
	var opts options
	if err := mapstructure.Decode(params, &opts); err != nil {
		return nil, fmt.Errorf("static auth provider: %w", err)
	}
	if len(opts.Users) == 0 {
		return nil, fmt.Errorf(`"users" must be set for static auth provider`)
	}
	return New(opts.Users), nil
}

func init() {
	auth.Register("static", auth.InitFunc(newProvider))
}
