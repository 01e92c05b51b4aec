package handlers

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/registry/api/errcode"
	"github.com/rockslide/rockslide/registry/storage"
)

// manifestDispatcher takes the request context and builds the
// appropriate handler for handling manifest requests.
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	manifestHandler := &manifestHandler{
		Context:   ctx,
		Reference: ctx.vars["reference"],
	}

	return handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodHead: http.HandlerFunc(manifestHandler.GetManifest),
		http.MethodPut:  http.HandlerFunc(manifestHandler.PutManifest),
	}
}

// manifestHandler handles http operations on image manifests.
type manifestHandler struct {
	*Context

	// Reference is either a tag or a digest string.
	Reference string
}

// GetManifest fetches the manifest named by a tag or digest.
func (imh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(imh).Debug("GetImageManifest")

	m, err := imh.Manifests.Get(imh, imh.Location, imh.Reference)
	if err != nil {
		appendStorageError(imh.Context, err)
		return
	}

	w.Header().Set("Content-Type", m.MediaType)
	w.Header().Set("Content-Length", fmt.Sprint(len(m.Payload)))
	w.Header().Set("Docker-Content-Digest", m.Digest.String())
	w.Header().Set("Etag", fmt.Sprintf(`"%s"`, m.Digest))

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(m.Payload); err != nil {
		dcontext.GetLogger(imh).Infof("error writing manifest: %v", err)
	}
}

// PutManifest validates and stores a manifest in the registry. The media
// type comes from Content-Type when set and otherwise from the payload.
func (imh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(imh).Debug("PutImageManifest")

	payload, err := readPayload(r, storage.MaxManifestSize)
	if err != nil {
		if clientGone(r) {
			dcontext.GetLogger(imh).Infof("client disconnected during manifest put: %v", err)
		}
		imh.Errors = append(imh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}

	var mediaType string
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err = mime.ParseMediaType(ct)
		if err != nil {
			imh.Errors = append(imh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
			return
		}
	}

	m, err := imh.Manifests.Put(imh, imh.Location, imh.Reference, mediaType, payload)
	if err != nil {
		appendStorageError(imh.Context, err)
		return
	}

	location, err := imh.urlBuilder.BuildManifestURL(imh.Location, m.Digest.String())
	if err != nil {
		// NOTE: the manifest is stored at this point; only the
		// response is affected.
		dcontext.GetLogger(imh).Errorf("error building manifest url from digest: %v", err)
		imh.Errors = append(imh.Errors, errcode.ErrorCodeUnknown)
		return
	}

	w.Header().Set("Location", location)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", m.Digest.String())
	w.WriteHeader(http.StatusCreated)
}
