// Package auth defines how the registry establishes who is making a request.
//
// A Provider verifies a username and password. The registry never looks at
// a username directly: it parses UnverifiedCredentials from a request and
// trades them for a ValidUser through Authenticate, the only way to obtain
// one.
//
//	creds, err := auth.CredentialsFromRequest(r)
//	if err != nil {
//		// ErrNoCredentials: challenge with 401
//		// ErrMalformedCredentials: 400
//	}
//	user, err := auth.Authenticate(ctx, provider, creds)
//
// Backends register themselves by name with a constructor accepting an
// options map, and are selected from the configuration with Get.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rockslide/rockslide/internal/dcontext"
)

var (
	// ErrNoCredentials is returned when a request carries no Authorization
	// header.
	ErrNoCredentials = errors.New("authentication required")

	// ErrMalformedCredentials is returned when the Authorization header
	// cannot be decoded into a username and password.
	ErrMalformedCredentials = errors.New("malformed credentials")

	// ErrInvalidCredentials is returned when the provider rejects the
	// credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Provider verifies credentials. Verify must return true if and only if the
// pair is valid. It is called concurrently.
type Provider interface {
	Verify(ctx context.Context, username, password string) bool
}

// UnverifiedCredentials is a username and password as sent by a client. It
// carries no trust.
type UnverifiedCredentials struct {
	Username string
	Password string
}

// String keeps the password out of logs.
func (c UnverifiedCredentials) String() string {
	return fmt.Sprintf("UnverifiedCredentials{Username: %q, Password: <redacted>}", c.Username)
}

// GoString keeps the password out of %#v.
func (c UnverifiedCredentials) GoString() string {
	return c.String()
}

// ValidUser is a user whose credentials a Provider accepted. Only
// Authenticate returns a non-zero ValidUser.
type ValidUser struct {
	name string
}

// Username returns the verified username.
func (u ValidUser) Username() string {
	return u.name
}

// IsZero reports whether u was never verified.
func (u ValidUser) IsZero() bool {
	return u == ValidUser{}
}

func (u ValidUser) String() string {
	return u.name
}

// Authenticate asks p to verify creds.
func Authenticate(ctx context.Context, p Provider, creds UnverifiedCredentials) (ValidUser, error) {
	if !p.Verify(ctx, creds.Username, creds.Password) {
		dcontext.GetLoggerWithField(ctx, "auth.user.name", creds.Username).Info("credentials rejected")
		return ValidUser{}, ErrInvalidCredentials
	}
	return ValidUser{name: creds.Username}, nil
}

// CredentialsFromRequest parses the Basic Authorization header of r.
func CredentialsFromRequest(r *http.Request) (UnverifiedCredentials, error) {
	values, ok := r.Header["Authorization"]
	if !ok || len(values) == 0 {
		return UnverifiedCredentials{}, ErrNoCredentials
	}
	return ParseBasic(values[0])
}

// ParseBasic decodes the value of a Basic Authorization header. The scheme
// is case insensitive; the decoded pair must contain a colon and both halves
// must be valid UTF-8.
func ParseBasic(header string) (UnverifiedCredentials, error) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return UnverifiedCredentials{}, ErrMalformedCredentials
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return UnverifiedCredentials{}, ErrMalformedCredentials
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || !utf8.ValidString(username) || !utf8.ValidString(password) {
		return UnverifiedCredentials{}, ErrMalformedCredentials
	}

	return UnverifiedCredentials{Username: username, Password: password}, nil
}

// SetChallengeHeaders asks the client for Basic credentials in realm.
func SetChallengeHeaders(h http.Header, realm string) {
	h.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
}

type userKey struct{}

func (userKey) String() string { return "auth.user" }

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user ValidUser) context.Context {
	ctx = context.WithValue(ctx, userKey{}, user)
	return dcontext.WithLogger(ctx, dcontext.GetLoggerWithField(ctx, "auth.user.name", user.Username()))
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (ValidUser, bool) {
	user, ok := ctx.Value(userKey{}).(ValidUser)
	return user, ok && !user.IsZero()
}

// InitFunc is the type of a Provider factory function and is used to
// register the constructor for different Provider backends.
type InitFunc func(options map[string]interface{}) (Provider, error)

var (
	providersMu sync.Mutex
	providers   = make(map[string]InitFunc)
)

// Register is used to register an InitFunc for a Provider backend with the
// given name.
func Register(name string, initFunc InitFunc) error {
	providersMu.Lock()
	defer providersMu.Unlock()

	if _, exists := providers[name]; exists {
		return fmt.Errorf("name already registered: %s", name)
	}

	providers[name] = initFunc
	return nil
}

// Get constructs a Provider with the given options using the named backend.
func Get(name string, options map[string]interface{}) (Provider, error) {
	providersMu.Lock()
	initFunc, exists := providers[name]
	providersMu.Unlock()

	if !exists {
		return nil, fmt.Errorf("no auth provider registered with name: %s", name)
	}
	return initFunc(options)
}
