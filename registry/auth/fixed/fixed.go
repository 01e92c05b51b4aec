// Package fixed provides a Provider that gives the same answer to everyone.
// It exists for tests and for registries on trusted networks.
//
//	auth:
//	  fixed:
//	    allow: true
package fixed

import (
	"context"
	"fmt"

	"github.com/rockslide/rockslide/registry/auth"
)

// Provider accepts every credential when true and rejects every one when
// false.
type Provider bool

// AllowAll accepts everyone.
const AllowAll Provider = true

// DenyAll rejects everyone.
const DenyAll Provider = false

var _ auth.Provider = AllowAll

// Verify returns the fixed answer.
func (p Provider) Verify(ctx context.Context, username, password string) bool {
	return bool(p)
}

func newProvider(options map[string]interface{}) (auth.Provider, error) {
	allow, present := options["allow"]
	if !present {
		return DenyAll, nil
	}
	b, ok := allow.(bool)
	if !ok {
		return nil, fmt.Errorf(`"allow" must be a boolean for fixed auth provider, got %T`, allow)
	}
	return Provider(b), nil
}

func init() {
	auth.Register("fixed", auth.InitFunc(newProvider))
}
