package htpasswd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/rockslide/rockslide/registry/auth"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	p, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("error hashing password: %v", err)
	}
	return string(p)
}

func TestParseHTPasswd(t *testing.T) {
	aliceHash := hash(t, "alice-pw")
	bobHash := hash(t, "bob-pw")

	for _, tc := range []struct {
		desc    string
		input   string
		err     bool
		entries map[string][]byte
	}{
		{
			desc: "basic example",
			input: `
# This is a comment in a basic example.
alice:` + aliceHash + `
bob:` + bobHash + `
`,
			entries: map[string][]byte{
				"alice": []byte(aliceHash),
				"bob":   []byte(bobHash),
			},
		},
		{
			desc: "ensures comments are filtered",
			input: `
# alice:` + aliceHash + `
`,
			entries: map[string][]byte{},
		},
		{
			desc: "ensure midline hash is not comment",
			input: `
al#ice:` + aliceHash + `
`,
			entries: map[string][]byte{
				"al#ice": []byte(aliceHash),
			},
		},
		{
			desc:  "ensure invalid entry is rejected",
			input: "no-colon-here\n",
			err:   true,
		},
		{
			desc:  "ensure non-bcrypt entry is rejected",
			input: "alice:{SHA}W6ph5Mm5Pz8GgiULbPgzG37mj9g=\n",
			err:   true,
		},
	} {
		entries, err := parseHTPasswd(strings.NewReader(tc.input))
		if tc.err {
			if err == nil {
				t.Fatalf("%s: expected an error", tc.desc)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.desc, err)
		}

		if len(entries) != len(tc.entries) {
			t.Fatalf("%s: %d entries != %d", tc.desc, len(entries), len(tc.entries))
		}
		for user, h := range tc.entries {
			if string(entries[user]) != string(h) {
				t.Fatalf("%s: unexpected entry for %q", tc.desc, user)
			}
		}
	}
}

func TestProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")
	content := "alice:" + hash(t, "alice-pw") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("error writing htpasswd: %v", err)
	}

	p, err := auth.Get("htpasswd", map[string]interface{}{"path": path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if !p.Verify(ctx, "alice", "alice-pw") {
		t.Fatalf("valid credentials rejected")
	}
	if p.Verify(ctx, "alice", "wrong") {
		t.Fatalf("wrong password accepted")
	}
	if p.Verify(ctx, "mallory", "alice-pw") {
		t.Fatalf("unknown user accepted")
	}

	if _, err := auth.Get("htpasswd", map[string]interface{}{}); err == nil {
		t.Fatalf("expected an error without a path")
	}
	if _, err := auth.Get("htpasswd", map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
