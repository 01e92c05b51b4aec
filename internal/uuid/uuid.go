package uuid

import "github.com/google/uuid"

// NewString returns a random (version 4) UUID. Upload session ids are
// derived from it, so it must not be predictable.
func NewString() string {
	return uuid.New().String()
}

// Valid reports whether s is a well-formed UUID in canonical form.
func Valid(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}
