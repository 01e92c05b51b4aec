package storage

import (
	"encoding/json"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// MediaTypeDockerManifest is the Docker image manifest, schema 2.
	MediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

	// MediaTypeDockerManifestList is the Docker multi-platform list.
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// manifestKind says which references of a manifest must be checked.
type manifestKind int

const (
	kindUnknown manifestKind = iota
	kindImage
	kindIndex
)

func kindOf(mediaType string) manifestKind {
	switch mediaType {
	case v1.MediaTypeImageManifest, MediaTypeDockerManifest:
		return kindImage
	case v1.MediaTypeImageIndex, MediaTypeDockerManifestList:
		return kindIndex
	default:
		return kindUnknown
	}
}

// manifestEnvelope holds the fields common to every accepted manifest
// format.
type manifestEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType,omitempty"`
	Manifests     json.RawMessage `json:"manifests,omitempty"`
}

// sniffMediaType returns the media type of a stored payload. OCI payloads
// may omit mediaType; the presence of a manifests array then marks an
// index.
func sniffMediaType(payload []byte) string {
	var env manifestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	if env.MediaType != "" {
		return env.MediaType
	}
	if len(env.Manifests) > 0 {
		return v1.MediaTypeImageIndex
	}
	return v1.MediaTypeImageManifest
}
