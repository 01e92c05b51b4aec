package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type providerFunc func(username, password string) bool

func (f providerFunc) Verify(ctx context.Context, username, password string) bool {
	return f(username, password)
}

func basic(s string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestParseBasic(t *testing.T) {
	for _, testcase := range []struct {
		header   string
		expected UnverifiedCredentials
		err      error
	}{
		{header: basic("alice:secret"), expected: UnverifiedCredentials{Username: "alice", Password: "secret"}},
		{header: "basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret")), expected: UnverifiedCredentials{Username: "alice", Password: "secret"}},
		{header: basic("alice:sec:ret"), expected: UnverifiedCredentials{Username: "alice", Password: "sec:ret"}},
		{header: basic(":"), expected: UnverifiedCredentials{}},
		{header: basic("alice:"), expected: UnverifiedCredentials{Username: "alice"}},
		{header: basic("alice"), err: ErrMalformedCredentials},
		{header: "Bearer abc", err: ErrMalformedCredentials},
		{header: "Basic not-base64!", err: ErrMalformedCredentials},
		{header: "Basic", err: ErrMalformedCredentials},
		{header: "", err: ErrMalformedCredentials},
		{header: "Basic " + base64.StdEncoding.EncodeToString([]byte("al\xffice:pw")), err: ErrMalformedCredentials},
		{header: "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:p\xffw")), err: ErrMalformedCredentials},
	} {
		creds, err := ParseBasic(testcase.header)
		if !errors.Is(err, testcase.err) {
			t.Fatalf("%q: unexpected error: %v != %v", testcase.header, err, testcase.err)
		}
		if creds != testcase.expected {
			t.Fatalf("%q: unexpected credentials: %#v", testcase.header, creds)
		}
	}
}

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	if _, err := CredentialsFromRequest(req); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}

	req.Header.Set("Authorization", "")
	if _, err := CredentialsFromRequest(req); !errors.Is(err, ErrMalformedCredentials) {
		t.Fatalf("an empty header is present and malformed, got %v", err)
	}

	req.Header.Set("Authorization", basic("bob:pw"))
	creds, err := CredentialsFromRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Username != "bob" || creds.Password != "pw" {
		t.Fatalf("unexpected credentials: %#v", creds)
	}
}

func TestCredentialsRedacted(t *testing.T) {
	creds := UnverifiedCredentials{Username: "alice", Password: "hunter2"}
	for _, s := range []string{
		fmt.Sprint(creds),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
	} {
		if strings.Contains(s, "hunter2") {
			t.Fatalf("password leaked: %s", s)
		}
		if !strings.Contains(s, "alice") {
			t.Fatalf("username missing: %s", s)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	p := providerFunc(func(username, password string) bool {
		return username == "alice" && password == "secret"
	})

	user, err := Authenticate(ctx, p, UnverifiedCredentials{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username() != "alice" || user.IsZero() {
		t.Fatalf("unexpected user: %v", user)
	}

	user, err = Authenticate(ctx, p, UnverifiedCredentials{Username: "alice", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !user.IsZero() {
		t.Fatalf("rejected credentials produced a user: %v", user)
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Fatalf("empty context has a user")
	}

	if _, ok := UserFromContext(WithUser(ctx, ValidUser{})); ok {
		t.Fatalf("zero user accepted from context")
	}

	user, err := Authenticate(ctx, providerFunc(func(string, string) bool { return true }), UnverifiedCredentials{Username: "carol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := UserFromContext(WithUser(ctx, user))
	if !ok || got != user {
		t.Fatalf("user not recovered from context: %v", got)
	}
}

func TestChallengeHeaders(t *testing.T) {
	h := http.Header{}
	SetChallengeHeaders(h, "rockslide")
	if got := h.Get("WWW-Authenticate"); got != `Basic realm="rockslide"` {
		t.Fatalf("unexpected challenge: %q", got)
	}
}

func TestRegistration(t *testing.T) {
	err := Register("test-allow", func(options map[string]interface{}) (Provider, error) {
		return providerFunc(func(string, string) bool { return true }), nil
	})
	if err != nil {
		t.Fatalf("unexpected error registering: %v", err)
	}
	if err := Register("test-allow", nil); err == nil {
		t.Fatalf("expected an error registering a name twice")
	}

	p, err := Get("test-allow", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Verify(context.Background(), "x", "y") {
		t.Fatalf("registered provider not returned")
	}

	if _, err := Get("does-not-exist", nil); err == nil {
		t.Fatalf("expected an error for an unknown provider")
	}
}
