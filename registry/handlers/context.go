package handlers

import (
	"context"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/registry/api/errcode"
	"github.com/rockslide/rockslide/registry/auth"
)

// Context should contain the request specific context for use in across
// handlers. Resources that don't need to be shared across handlers should not
// be on this object.
type Context struct {
	// App points to the application structure that created this context.
	*App
	context.Context

	// Errors is a collection of errors encountered during the request to be
	// returned to the client API. If errors are added to the collection, the
	// handler *must not* start the response via http.ResponseWriter.
	Errors errcode.Errors

	// Location is the image addressed by the request. It is zero on the
	// base route.
	Location rockslide.ImageLocation

	// User is the caller, as established by the auth provider.
	User auth.ValidUser

	// Storage services for this request, wrapped so that successful
	// operations are reported as events.
	Manifests rockslide.ManifestService
	Blobs     rockslide.BlobProvider
	Uploads   rockslide.UploadManager

	vars map[string]string
}

// Value resolves keys against the request context rather than the
// application context.
func (ctx *Context) Value(key interface{}) interface{} {
	return ctx.Context.Value(key)
}
