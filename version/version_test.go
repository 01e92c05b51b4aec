package version

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestFprintVersion(t *testing.T) {
	var buf bytes.Buffer
	FprintVersion(&buf)

	fields := strings.Fields(buf.String())
	if len(fields) != 3 {
		t.Fatalf("unexpected version line %q", buf.String())
	}
	if fields[0] != os.Args[0] || fields[1] != Package() || fields[2] != Version() {
		t.Fatalf("unexpected version line %q", buf.String())
	}

	revision = "abc123"
	defer func() { revision = "" }()

	buf.Reset()
	FprintVersion(&buf)
	if !strings.HasSuffix(strings.TrimSpace(buf.String()), " abc123") {
		t.Fatalf("revision missing from %q", buf.String())
	}
}
