// Package v2 describes the routes of the registry HTTP API and builds URLs
// for them.
package v2

import (
	"github.com/gorilla/mux"
)

// The following are definitions of the name under which all V2 routes are
// registered. These symbols can be used to look up a route based on the name.
const (
	RouteNameBase            = "base"
	RouteNameManifest        = "manifest"
	RouteNameTags            = "tags"
	RouteNameBlob            = "blob"
	RouteNameBlobUpload      = "blob-upload"
	RouteNameBlobUploadChunk = "blob-upload-chunk"

	// RouteNameBlobUploadChunkAlias is the location clients build by hand
	// from the upload collection URL. It serves the same handlers as
	// RouteNameBlobUploadChunk.
	RouteNameBlobUploadChunkAlias = "blob-upload-chunk-alias"
)

const (
	// Names, references and digests are matched loosely and validated by
	// the handlers so that a bad value is reported rather than 404ed.
	pathComponent    = `[A-Za-z0-9._-]+`
	referencePattern = `[^/]+`
	uuidPattern      = `[a-zA-Z0-9-_.=]+`
)

// RouteDescriptor names a route and the path it matches.
type RouteDescriptor struct {
	Name string
	Path string
}

var imagePrefix = "/v2/{repository:" + pathComponent + "}/{image:" + pathComponent + "}"

var routeDescriptors = []RouteDescriptor{
	{Name: RouteNameBase, Path: "/v2/"},
	{Name: RouteNameManifest, Path: imagePrefix + "/manifests/{reference:" + referencePattern + "}"},
	{Name: RouteNameTags, Path: imagePrefix + "/tags/list"},
	// The upload collection must be matched before the blob route, which
	// would otherwise take "uploads" for a digest.
	{Name: RouteNameBlobUpload, Path: imagePrefix + "/blobs/uploads/"},
	{Name: RouteNameBlob, Path: imagePrefix + "/blobs/{digest:" + referencePattern + "}"},
	{Name: RouteNameBlobUploadChunk, Path: imagePrefix + "/uploads/{uuid:" + uuidPattern + "}"},
	{Name: RouteNameBlobUploadChunkAlias, Path: imagePrefix + "/blobs/uploads/{uuid:" + uuidPattern + "}"},
}

// RouteDescriptors returns every route of the API in registration order.
func RouteDescriptors() []RouteDescriptor {
	return append([]RouteDescriptor(nil), routeDescriptors...)
}

// Router builds a gorilla router with named routes for the various API
// methods. This can be used directly by both server implementations and
// clients.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix builds a gorilla router with a configured prefix
// on all routes.
func RouterWithPrefix(prefix string) *mux.Router {
	rootRouter := mux.NewRouter()
	router := rootRouter
	if prefix != "" {
		router = router.PathPrefix(prefix).Subrouter()
	}

	router.StrictSlash(true)

	for _, descriptor := range routeDescriptors {
		router.Path(descriptor.Path).Name(descriptor.Name)
	}

	return rootRouter
}
