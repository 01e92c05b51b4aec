package version

import (
	"fmt"
	"io"
	"os"
)

// Package returns the import path the binary was built from.
func Package() string {
	return mainpkg
}

// Version returns the release the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision linked into the binary, or "".
func Revision() string {
	return revision
}

// FprintVersion writes "<cmd> <project> <version>", plus the revision when
// one was linked in, followed by a newline. For example:
//
//	rockslide github.com/rockslide/rockslide v0.1.0 3f2c9e1
func FprintVersion(w io.Writer) {
	if revision != "" {
		fmt.Fprintln(w, os.Args[0], Package(), Version(), Revision())
		return
	}
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion writes the version line to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
