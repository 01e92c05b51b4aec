package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/registry/api/errcode"
)

// blobDispatcher uses the request context to build a blobHandler.
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	dgst, err := digest.Parse(ctx.vars["digest"])
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		})
	}

	blobHandler := &blobHandler{
		Context: ctx,
		Digest:  dgst,
	}

	return handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(blobHandler.GetBlob),
		http.MethodHead: http.HandlerFunc(blobHandler.HeadBlob),
	}
}

// blobHandler serves http blob requests.
type blobHandler struct {
	*Context

	Digest digest.Digest
}

// HeadBlob reports whether the blob exists. A missing blob is a bare 404
// with no error body.
func (bh *blobHandler) HeadBlob(w http.ResponseWriter, r *http.Request) {
	desc, err := bh.Blobs.Stat(bh, bh.Digest)
	if err != nil {
		if errors.Is(err, rockslide.ErrBlobUnknown) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		appendStorageError(bh.Context, err)
		return
	}

	writeBlobHeaders(w, desc)
	w.Header().Set("Content-Length", fmt.Sprint(desc.Size))
	w.WriteHeader(http.StatusOK)
}

// GetBlob fetches the binary data from backend storage returns it in the
// response. Range requests are honoured.
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(bh).Debug("GetBlob")

	desc, err := bh.Blobs.Stat(bh, bh.Digest)
	if err != nil {
		appendStorageError(bh.Context, err)
		return
	}

	rsc, err := bh.Blobs.Open(bh, bh.Digest)
	if err != nil {
		appendStorageError(bh.Context, err)
		return
	}
	defer rsc.Close()

	writeBlobHeaders(w, desc)
	w.Header().Set("Etag", fmt.Sprintf(`"%s"`, desc.Digest))
	w.Header().Set("Cache-Control", "max-age=31536000")

	http.ServeContent(w, r, "", time.Time{}, rsc)
}

func writeBlobHeaders(w http.ResponseWriter, desc rockslide.BlobMetadata) {
	mediaType := desc.MediaType
	if mediaType == "" {
		mediaType = rockslide.BlobMediaType
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
}
