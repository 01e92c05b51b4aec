package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rockslide/rockslide"
	"github.com/rockslide/rockslide/internal/dcontext"
	"github.com/rockslide/rockslide/registry/api/errcode"
)

// appendStorageError adds the API form of err to ctx.Errors. A manifest
// verification failure contributes one entry per problem. Errors without an
// API form are logged and reported as UNKNOWN with no detail.
func appendStorageError(ctx *Context, err error) {
	var verification rockslide.ErrManifestVerification
	if errors.As(err, &verification) {
		for _, err := range verification {
			appendStorageError(ctx, err)
		}
		return
	}

	var (
		invalidDigest  rockslide.ErrBlobInvalidDigest
		invalidRef     rockslide.ErrDigestReferenceInvalid
		invalidOffset  rockslide.ErrBlobUploadInvalidOffset
		repoUnknown    rockslide.ErrRepositoryUnknown
		nameInvalid    rockslide.ErrRepositoryNameInvalid
		manifestTag    rockslide.ErrManifestUnknown
		manifestRev    rockslide.ErrManifestUnknownRevision
		manifestBlob   rockslide.ErrManifestBlobUnknown
		manifestBad    rockslide.ErrManifestInvalid
		digestMismatch rockslide.ErrManifestDigestMismatch
		tagInvalid     rockslide.ErrTagInvalid
	)

	var apiErr error
	switch {
	case errors.Is(err, rockslide.ErrBlobUnknown):
		apiErr = errcode.ErrorCodeBlobUnknown
	case errors.Is(err, rockslide.ErrBlobUploadUnknown):
		apiErr = errcode.ErrorCodeBlobUploadUnknown
	case errors.Is(err, rockslide.ErrUnsupported):
		apiErr = errcode.ErrorCodeUnsupported
	case errors.As(err, &invalidDigest):
		apiErr = errcode.ErrorCodeDigestInvalid.WithDetail(invalidDigest.Error())
	case errors.As(err, &invalidRef):
		apiErr = errcode.ErrorCodeDigestInvalid.WithDetail(invalidRef.Error())
	case errors.As(err, &invalidOffset):
		apiErr = errcode.ErrorCodeRangeInvalid.WithDetail(invalidOffset.Error())
	case errors.As(err, &repoUnknown):
		apiErr = errcode.ErrorCodeNameUnknown.WithDetail(map[string]string{"name": repoUnknown.Name})
	case errors.As(err, &nameInvalid):
		apiErr = errcode.ErrorCodeNameInvalid.WithDetail(nameInvalid.Error())
	case errors.As(err, &manifestTag):
		apiErr = errcode.ErrorCodeManifestUnknown.WithDetail(map[string]string{"tag": manifestTag.Tag})
	case errors.As(err, &manifestRev):
		apiErr = errcode.ErrorCodeManifestUnknown.WithDetail(map[string]string{"revision": manifestRev.Revision.String()})
	case errors.As(err, &manifestBlob):
		apiErr = errcode.ErrorCodeManifestBlobUnknown.WithDetail(map[string]string{"digest": manifestBlob.Digest.String()})
	case errors.As(err, &manifestBad):
		apiErr = errcode.ErrorCodeManifestInvalid.WithDetail(manifestBad.Reason)
	case errors.As(err, &digestMismatch):
		apiErr = errcode.ErrorCodeDigestInvalid.WithDetail(digestMismatch.Error())
	case errors.As(err, &tagInvalid):
		apiErr = errcode.ErrorCodeTagInvalid.WithDetail(map[string]string{"tag": tagInvalid.Tag})
	default:
		dcontext.GetLogger(ctx).WithError(err).Error("unexpected storage error")
		apiErr = errcode.ErrorCodeUnknown
	}

	ctx.Errors = append(ctx.Errors, apiErr)
}

// readPayload reads the whole request body, failing when it is longer than
// limit bytes.
func readPayload(r *http.Request, limit int64) ([]byte, error) {
	p, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(p)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	return p, nil
}

// parseContentRange parses a "start-end" Content-Range value. A leading
// "bytes " unit is accepted.
func parseContentRange(cr string) (start int64, end int64, err error) {
	cr = strings.TrimPrefix(cr, "bytes ")
	rStart, rEnd, ok := strings.Cut(cr, "-")
	if !ok {
		return -1, -1, fmt.Errorf("invalid content range format, %s", cr)
	}
	start, err = strconv.ParseInt(rStart, 10, 64)
	if err != nil {
		return -1, -1, err
	}
	end, err = strconv.ParseInt(rEnd, 10, 64)
	if err != nil {
		return -1, -1, err
	}
	if start < 0 || start > end {
		return -1, -1, fmt.Errorf("invalid content range %s", cr)
	}
	return start, end, nil
}

// drained reports whether nothing is left to read from body.
func drained(body io.Reader) bool {
	var b [1]byte
	n, _ := io.ReadFull(body, b[:])
	return n == 0
}

// clientGone reports whether the request failed because the client went
// away rather than because of the registry.
func clientGone(r *http.Request) bool {
	return r.Context().Err() != nil
}
