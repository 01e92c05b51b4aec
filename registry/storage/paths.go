package storage

import (
	"fmt"
	"path"

	"github.com/rockslide/rockslide/digest"
)

const (
	storagePathRoot    = "/docker/registry/"
	storagePathVersion = "v2"
)

// pathFor maps a path spec to a driver path. The layout below the root is:
//
//	<root>/v2
//	├── blobs
//	│   └── sha256/<first two hex>/<hex>/data
//	├── uploads
//	│   └── <session id>
//	│       ├── data
//	│       └── startedat
//	└── repositories
//	    └── <repository>/<image>
//	        └── _manifests
//	            ├── revisions/sha256/<hex>/link
//	            └── tags/<tag>/current/link
//
// Blobs are global and deduplicated. Upload sessions live outside any
// repository since they are addressed by id alone. Links contain a
// canonical digest string.
//
// Paths are only ever written under uploads/ until content is verified;
// blob data paths are populated by a single driver Move.
func pathFor(spec pathSpec) (string, error) {
	rootPrefix := []string{storagePathRoot, storagePathVersion}
	repoPrefix := append(rootPrefix, "repositories")

	switch v := spec.(type) {
	case blobsPathSpec:
		return path.Join(append(rootPrefix, "blobs")...), nil

	case blobPathSpec:
		components, err := digestPathComponents(v.digest, true)
		if err != nil {
			return "", err
		}
		return path.Join(append(append(rootPrefix, "blobs"), components...)...), nil

	case blobDataPathSpec:
		components, err := digestPathComponents(v.digest, true)
		if err != nil {
			return "", err
		}
		components = append(components, "data")
		return path.Join(append(append(rootPrefix, "blobs"), components...)...), nil

	case uploadsPathSpec:
		return path.Join(append(rootPrefix, "uploads")...), nil

	case uploadPathSpec:
		if v.id == "" {
			return "", fmt.Errorf("upload path requires an id")
		}
		return path.Join(append(rootPrefix, "uploads", v.id)...), nil

	case uploadDataPathSpec:
		if v.id == "" {
			return "", fmt.Errorf("upload path requires an id")
		}
		return path.Join(append(rootPrefix, "uploads", v.id, "data")...), nil

	case uploadStartedAtPathSpec:
		if v.id == "" {
			return "", fmt.Errorf("upload path requires an id")
		}
		return path.Join(append(rootPrefix, "uploads", v.id, "startedat")...), nil

	case repositoryPathSpec:
		return path.Join(append(repoPrefix, v.name)...), nil

	case manifestRevisionLinkPathSpec:
		components, err := digestPathComponents(v.revision, false)
		if err != nil {
			return "", err
		}
		return path.Join(append(append(append(repoPrefix, v.name, "_manifests", "revisions"), components...), "link")...), nil

	case manifestTagsPathSpec:
		return path.Join(append(repoPrefix, v.name, "_manifests", "tags")...), nil

	case manifestTagCurrentPathSpec:
		return path.Join(append(repoPrefix, v.name, "_manifests", "tags", v.tag, "current", "link")...), nil

	default:
		return "", fmt.Errorf("unknown path spec: %#v", v)
	}
}

// pathSpec marks the structs pathFor accepts.
type pathSpec interface {
	pathSpec()
}

// blobsPathSpec contains every published blob.
type blobsPathSpec struct{}

func (blobsPathSpec) pathSpec() {}

// blobPathSpec is the directory of one published blob.
type blobPathSpec struct {
	digest digest.Digest
}

func (blobPathSpec) pathSpec() {}

// blobDataPathSpec is the content of one published blob.
type blobDataPathSpec struct {
	digest digest.Digest
}

func (blobDataPathSpec) pathSpec() {}

// uploadsPathSpec contains every staging area.
type uploadsPathSpec struct{}

func (uploadsPathSpec) pathSpec() {}

// uploadPathSpec is the staging area of one session.
type uploadPathSpec struct {
	id string
}

func (uploadPathSpec) pathSpec() {}

// uploadDataPathSpec holds the bytes received by a session.
type uploadDataPathSpec struct {
	id string
}

func (uploadDataPathSpec) pathSpec() {}

// uploadStartedAtPathSpec records when a session began, in RFC3339. The
// purger uses it to reclaim sessions that outlived the process tracking
// them.
type uploadStartedAtPathSpec struct {
	id string
}

func (uploadStartedAtPathSpec) pathSpec() {}

type repositoryPathSpec struct {
	name string
}

func (repositoryPathSpec) pathSpec() {}

// manifestRevisionLinkPathSpec marks a manifest digest as belonging to a
// repository.
type manifestRevisionLinkPathSpec struct {
	name     string
	revision digest.Digest
}

func (manifestRevisionLinkPathSpec) pathSpec() {}

type manifestTagsPathSpec struct {
	name string
}

func (manifestTagsPathSpec) pathSpec() {}

// manifestTagCurrentPathSpec links a tag to the manifest it points at.
type manifestTagCurrentPathSpec struct {
	name string
	tag  string
}

func (manifestTagCurrentPathSpec) pathSpec() {}

// digestPathComponents returns the algorithm and hex as path components,
// optionally with a two character prefix directory to keep directories
// small.
func digestPathComponents(dgst digest.Digest, multilevel bool) ([]string, error) {
	if dgst.IsZero() {
		return nil, fmt.Errorf("digest path requires a digest")
	}

	hex := dgst.Hex()
	prefix := []string{string(digest.Algorithm)}

	var suffix []string
	if multilevel {
		suffix = append(suffix, hex[:2])
	}
	suffix = append(suffix, hex)

	return append(prefix, suffix...), nil
}
