// Package htpasswd provides a Provider that checks credentials against an
// htpasswd formatted file of bcrypt hashes, created for example with
// "htpasswd -B".
//
//	auth:
//	  htpasswd:
//	    path: /etc/rockslide/htpasswd
//
// This authentication method MUST be used under TLS, as simple token-replay
// attack is possible.
package htpasswd

import (
	"context"
	"fmt"
	"os"

	"github.com/rockslide/rockslide/registry/auth"
)

// Provider verifies against the entries of one htpasswd file, read once at
// construction.
type Provider struct {
	htpasswd *htpasswd
}

var _ auth.Provider = &Provider{}

// New reads the htpasswd file at path.
func New(path string) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := newHTPasswd(f)
	if err != nil {
		return nil, err
	}
	return &Provider{htpasswd: h}, nil
}

// Verify checks password against the hash stored for username.
func (p *Provider) Verify(ctx context.Context, username, password string) bool {
	return p.htpasswd.authenticateUser(username, password)
}

func newProvider(options map[string]interface{}) (auth.Provider, error) {
	path, present := options["path"]
	if _, ok := path.(string); !present || !ok {
		return nil, fmt.Errorf(`"path" must be set for htpasswd auth provider`)
	}
	return New(path.(string))
}

func init() {
	auth.Register("htpasswd", auth.InitFunc(newProvider))
}
