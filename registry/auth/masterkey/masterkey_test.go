package masterkey

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rockslide/rockslide/registry/auth"
)

func TestMasterKey(t *testing.T) {
	ctx := context.Background()
	mk := New("sesame")

	if mk.IsLocked() {
		t.Fatalf("key reported locked")
	}
	if !mk.Verify(ctx, "anyone", "sesame") {
		t.Fatalf("key rejected")
	}
	if !mk.Verify(ctx, "", "sesame") {
		t.Fatalf("username must be ignored")
	}
	if mk.Verify(ctx, "anyone", "sesame!") || mk.Verify(ctx, "sesame", "") {
		t.Fatalf("wrong password accepted")
	}
	if strings.Contains(fmt.Sprint(mk), "sesame") {
		t.Fatalf("key leaked: %v", mk)
	}
}

func TestLocked(t *testing.T) {
	ctx := context.Background()
	for name, mk := range map[string]MasterKey{
		"locked":    Locked(),
		"zero":      {},
		"empty key": New(""),
	} {
		if !mk.IsLocked() {
			t.Fatalf("%s: not locked", name)
		}
		if mk.Verify(ctx, "", "") || mk.Verify(ctx, "user", "pass") {
			t.Fatalf("%s: locked key accepted credentials", name)
		}
	}
}

func TestMasterKeyFromOptions(t *testing.T) {
	p, err := auth.Get("masterkey", map[string]interface{}{"key": "sesame"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Verify(context.Background(), "u", "sesame") {
		t.Fatalf("configured key rejected")
	}

	p, err = auth.Get("masterkey", map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.(MasterKey).IsLocked() {
		t.Fatalf("absent key should be locked")
	}

	if _, err := auth.Get("masterkey", map[string]interface{}{"key": 42}); err == nil {
		t.Fatalf("expected an error for a non-string key")
	}
}
