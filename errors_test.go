package rockslide

import (
	"errors"
	"testing"
)

func TestParseImageLocation(t *testing.T) {
	loc, err := ParseImageLocation("library", "ubuntu")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Name() != "library/ubuntu" {
		t.Fatalf("unexpected name: %q", loc.Name())
	}

	for _, tc := range [][2]string{
		{"my.repo", "img_1"},
		{"a__b", "c--d"},
		{"localhost", "app"},
	} {
		if _, err := ParseImageLocation(tc[0], tc[1]); err != nil {
			t.Errorf("expected %q/%q to be accepted, got %v", tc[0], tc[1], err)
		}
	}

	for _, tc := range [][2]string{
		{"Library", "ubuntu"},
		{"MyRepo", "img"},
		{"library", "Ubuntu"},
		{"library", "ubuntu."},
		{"library", "ubu ntu"},
		{"", "ubuntu"},
		{"library", "-ubuntu"},
	} {
		_, err := ParseImageLocation(tc[0], tc[1])
		var invalid ErrRepositoryNameInvalid
		if !errors.As(err, &invalid) {
			t.Errorf("expected %q/%q to be rejected, got %v", tc[0], tc[1], err)
		}
	}
}
