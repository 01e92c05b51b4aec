package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/digest"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/registry/api/errcode"
)

// blobUploadDispatcher constructs and returns the blob upload handler for the
// given request context. The collection route only starts uploads; the
// session routes act on an existing upload.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	buh := &blobUploadHandler{
		Context: ctx,
		UUID:    ctx.vars["uuid"],
	}

	if buh.UUID == "" {
		return handlers.MethodHandler{
			http.MethodPost: http.HandlerFunc(buh.StartBlobUpload),
		}
	}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(buh.GetUploadStatus),
		http.MethodHead:   http.HandlerFunc(buh.GetUploadStatus),
		http.MethodPatch:  http.HandlerFunc(buh.PatchBlobData),
		http.MethodPut:    http.HandlerFunc(buh.PutBlobUploadComplete),
		http.MethodDelete: http.HandlerFunc(buh.CancelBlobUpload),
	}
}

// blobUploadHandler handles the http blob upload process.
type blobUploadHandler struct {
	*Context

	// UUID identifies the upload session for the current request.
	UUID string
}

// StartBlobUpload begins the blob upload process and allocates a server-side
// upload session. With a digest parameter the request body is the whole
// blob and the upload is finalized in the same request.
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	var (
		dgst       digest.Digest
		monolithic bool
	)
	if dgstStr := r.URL.Query().Get("digest"); dgstStr != "" {
		var err error
		dgst, err = digest.Parse(dgstStr)
		if err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
			return
		}
		monolithic = true
	}

	upload, err := buh.Uploads.Begin(buh)
	if err != nil {
		appendStorageError(buh.Context, err)
		return
	}
	buh.UUID = upload.ID

	if !monolithic {
		if err := buh.blobUploadResponse(w, upload, false); err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if _, err := buh.Uploads.Append(buh, upload.ID, r.Body); err != nil {
		buh.appendBodyError(r, err)
		return
	}

	desc, err := buh.Uploads.Finalize(buh, upload.ID, dgst)
	if err != nil {
		appendStorageError(buh.Context, err)
		return
	}

	if err := buh.writeBlobCreatedHeaders(w, desc); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		return
	}
}

// GetUploadStatus returns the status of a given upload, identified by id.
func (buh *blobUploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	upload, err := buh.Uploads.Status(buh, buh.UUID)
	if err != nil {
		appendStorageError(buh.Context, err)
		return
	}

	if err := buh.blobUploadResponse(w, upload, true); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PatchBlobData appends the request body to an upload. Chunk negotiation
// through Range is not supported; a Content-Range is only accepted when it
// continues exactly where the upload ends.
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Range") != "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnsupported.WithDetail("ranged uploads are not supported"))
		return
	}

	var (
		size int64
		err  error
	)
	if cr := r.Header.Get("Content-Range"); cr != "" {
		start, end, perr := parseContentRange(cr)
		if perr != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(perr.Error()))
			return
		}

		if cl := r.Header.Get("Content-Length"); cl != "" {
			clInt, perr := strconv.ParseInt(cl, 10, 64)
			if perr != nil || clInt != (end-start)+1 {
				buh.Errors = append(buh.Errors, errcode.ErrorCodeSizeInvalid)
				return
			}
		}

		want := end - start + 1
		size, err = buh.Uploads.AppendAt(buh, buh.UUID, start, io.LimitReader(r.Body, want))
		if err == nil && (size-start != want || !drained(r.Body)) {
			// the bytes that did arrive stay staged, the status reports them
			buh.Errors = append(buh.Errors, errcode.ErrorCodeSizeInvalid.WithDetail(
				fmt.Sprintf("content range declared %d bytes, body carried %d", want, size-start)))
			return
		}
	} else {
		size, err = buh.Uploads.Append(buh, buh.UUID, r.Body)
	}
	if err != nil {
		buh.appendBodyError(r, err)
		return
	}

	if err := buh.blobUploadResponse(w, rockslide.UploadStatus{ID: buh.UUID, Size: size}, true); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PutBlobUploadComplete takes the final request of a blob upload. The
// request must carry no data; the staged content is verified against the
// digest parameter and, if it matches, published. The session is gone
// afterwards whether or not the digest matched.
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	if cl := r.Header.Get("Content-Length"); cl != "0" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeSizeInvalid.WithDetail("finalize requires Content-Length: 0"))
		return
	}

	dgstStr := r.URL.Query().Get("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest missing"))
		return
	}

	dgst, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(err.Error()))
		return
	}

	desc, err := buh.Uploads.Finalize(buh, buh.UUID, dgst)
	if err != nil {
		appendStorageError(buh.Context, err)
		return
	}

	if err := buh.writeBlobCreatedHeaders(w, desc); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		return
	}
}

// CancelBlobUpload cancels an in-progress upload of a blob.
func (buh *blobUploadHandler) CancelBlobUpload(w http.ResponseWriter, r *http.Request) {
	if err := buh.Uploads.Cancel(buh, buh.UUID); err != nil {
		appendStorageError(buh.Context, err)
		return
	}

	w.Header().Set("Docker-Upload-UUID", buh.UUID)
	w.WriteHeader(http.StatusNoContent)
}

// appendBodyError reports a failed append. The session has been abandoned
// by the upload manager either way.
func (buh *blobUploadHandler) appendBodyError(r *http.Request, err error) {
	if clientGone(r) {
		dcontext.GetLogger(buh).Infof("client disconnected during upload %s: %v", buh.UUID, err)
	}
	appendStorageError(buh.Context, err)
}

// blobUploadResponse provides a standard request for uploading blobs and
// chunk responses. This sets the correct headers but the response status is
// left to the caller. Range reports the number of bytes received so far.
func (buh *blobUploadHandler) blobUploadResponse(w http.ResponseWriter, upload rockslide.UploadStatus, withRange bool) error {
	uploadURL, err := buh.urlBuilder.BuildBlobUploadChunkURL(buh.Location, upload.ID)
	if err != nil {
		dcontext.GetLogger(buh).Infof("error building upload url: %s", err)
		return err
	}

	w.Header().Set("Docker-Upload-UUID", upload.ID)
	w.Header().Set("Location", uploadURL)
	w.Header().Set("Content-Length", "0")
	if withRange {
		w.Header().Set("Range", fmt.Sprintf("0-%d", upload.Size))
	}

	return nil
}

// writeBlobCreatedHeaders writes the standard headers describing a newly
// created blob. A 201 Created is written as well as the canonical URL and
// blob digest.
func (buh *blobUploadHandler) writeBlobCreatedHeaders(w http.ResponseWriter, desc rockslide.BlobMetadata) error {
	blobURL, err := buh.urlBuilder.BuildBlobURL(buh.Location, desc.Digest)
	if err != nil {
		return err
	}

	w.Header().Set("Location", blobURL)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", desc.Digest.String())
	w.WriteHeader(http.StatusCreated)
	return nil
}
