package htpasswd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// htpasswd holds a path to a system .htpasswd file and the machinery to
// parse it. Only bcrypt entries are supported.
type htpasswd struct {
	entries map[string][]byte // maps username to password byte slice.

	// dummy is compared against for unknown users so that a miss costs as
	// much as a wrong password.
	dummy []byte
}

// newHTPasswd parses the reader and returns an htpasswd or an error.
func newHTPasswd(rd io.Reader) (*htpasswd, error) {
	entries, err := parseHTPasswd(rd)
	if err != nil {
		return nil, err
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("rockslide"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return &htpasswd{entries: entries, dummy: dummy}, nil
}

// authenticateUser checks a given user:password credential against the
// receiving HTPasswd's file.
func (htpasswd *htpasswd) authenticateUser(username string, password string) bool {
	credentials, ok := htpasswd.entries[username]
	if !ok {
		bcrypt.CompareHashAndPassword(htpasswd.dummy, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword(credentials, []byte(password)) == nil
}

// parseHTPasswd parses the contents of htpasswd. This will read all the
// entries in the file, whether or not they are needed. An error is returned
// if a syntax errors are encountered or if the reader fails.
func parseHTPasswd(rd io.Reader) (map[string][]byte, error) {
	entries := map[string][]byte{}
	scanner := bufio.NewScanner(rd)
	var line int
	for scanner.Scan() {
		line++ // 1-based line numbering
		t := strings.TrimSpace(scanner.Text())

		if len(t) < 1 {
			continue
		}

		// lines that *begin* with a '#' are considered comments
		if t[0] == '#' {
			continue
		}

		i := strings.Index(t, ":")
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("htpasswd: invalid entry at line %d: %q", line, scanner.Text())
		}

		hash := []byte(t[i+1:])
		if _, err := bcrypt.Cost(hash); err != nil {
			return nil, fmt.Errorf("htpasswd: entry for %q at line %d is not a bcrypt hash: %w", t[:i], line, err)
		}

		entries[t[:i]] = hash
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
