package errcode

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

var (
	registerLock           sync.Mutex
	nextCode               = 1000
	errorCodeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	idToDescriptors        = map[string]ErrorDescriptor{}
	groupToDescriptors     = map[string][]ErrorDescriptor{}
)

const (
	commonGroup   = "errcode"
	registryGroup = "registry.api.v2"
)

// Codes shared by any handler.
var (
	// ErrorCodeUnknown is reported for failures with no better
	// classification, storage errors included.
	ErrorCodeUnknown = register(commonGroup, ErrorDescriptor{
		Value:          "UNKNOWN",
		Message:        "unknown error",
		Description:    "The request failed for a reason the registry does not classify.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	// ErrorCodeUnsupported is reported for requests the registry
	// understands but will not carry out.
	ErrorCodeUnsupported = register(commonGroup, ErrorDescriptor{
		Value:          "UNSUPPORTED",
		Message:        "The operation is unsupported.",
		Description:    "The route exists but this method, or this combination of headers, is not implemented.",
		HTTPStatusCode: http.StatusMethodNotAllowed,
	})

	// ErrorCodeUnauthorized is reported when the auth provider refuses the
	// presented credentials, or none were presented.
	ErrorCodeUnauthorized = register(commonGroup, ErrorDescriptor{
		Value:   "UNAUTHORIZED",
		Message: "authentication required",
		Description: `The credentials were missing or rejected. The response
		carries a WWW-Authenticate challenge naming the Basic realm.`,
		HTTPStatusCode: http.StatusUnauthorized,
	})

	// ErrorCodeCredentialsMalformed is reported when an Authorization
	// header is present but cannot be decoded into a user and password.
	ErrorCodeCredentialsMalformed = register(commonGroup, ErrorDescriptor{
		Value:   "CREDENTIALS_MALFORMED",
		Message: "malformed credentials",
		Description: `The Authorization header was not a valid Basic
		credential: the scheme was wrong, the base64 did not decode, or the
		decoded value had no colon separator.`,
		HTTPStatusCode: http.StatusBadRequest,
	})
)

// Codes of the distribution API.
var (
	// ErrorCodeDigestInvalid is reported for digests that cannot be parsed
	// and for uploads whose content does not hash to the claimed digest.
	ErrorCodeDigestInvalid = register(registryGroup, ErrorDescriptor{
		Value:   "DIGEST_INVALID",
		Message: "provided digest did not match uploaded content",
		Description: `The digest was malformed, used an unsupported
		algorithm, or did not match the bytes received.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeSizeInvalid is reported when a declared length disagrees
	// with the body.
	ErrorCodeSizeInvalid = register(registryGroup, ErrorDescriptor{
		Value:          "SIZE_INVALID",
		Message:        "provided length did not match content length",
		Description:    "Content-Length or Content-Range did not agree with the number of bytes sent.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeRangeInvalid is reported for chunks that do not start where
	// the upload currently ends.
	ErrorCodeRangeInvalid = register(registryGroup, ErrorDescriptor{
		Value:   "RANGE_INVALID",
		Message: "invalid content range",
		Description: `The Content-Range of a chunk was unparsable or did
		not begin at the current end of the upload.`,
		HTTPStatusCode: http.StatusRequestedRangeNotSatisfiable,
	})

	// ErrorCodeNameInvalid is reported for repository names that are not
	// valid image names.
	ErrorCodeNameInvalid = register(registryGroup, ErrorDescriptor{
		Value:          "NAME_INVALID",
		Message:        "invalid repository name",
		Description:    "The repository and image path segments do not form a valid name.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeTagInvalid is reported for manifest references that are
	// neither a digest nor a valid tag.
	ErrorCodeTagInvalid = register(registryGroup, ErrorDescriptor{
		Value:          "TAG_INVALID",
		Message:        "manifest tag did not match URI",
		Description:    "The manifest reference was neither a sha256 digest nor a tag of at most 128 word characters.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeNameUnknown is reported for repositories nothing has been
	// pushed to.
	ErrorCodeNameUnknown = register(registryGroup, ErrorDescriptor{
		Value:          "NAME_UNKNOWN",
		Message:        "repository name not known to registry",
		Description:    "No manifest has ever been stored under this repository name.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeManifestUnknown is reported when a tag or digest resolves to
	// nothing.
	ErrorCodeManifestUnknown = register(registryGroup, ErrorDescriptor{
		Value:          "MANIFEST_UNKNOWN",
		Message:        "manifest unknown",
		Description:    "The repository has no manifest under the requested tag or digest.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeManifestInvalid is reported when a pushed manifest fails
	// validation and no more specific code applies.
	ErrorCodeManifestInvalid = register(registryGroup, ErrorDescriptor{
		Value:   "MANIFEST_INVALID",
		Message: "manifest invalid",
		Description: `The manifest was too large, not JSON, of the wrong
		schema version, or declared a media type other than the one it was
		sent with. The detail names the failed check.`,
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeManifestBlobUnknown is reported when a pushed manifest
	// references content the registry does not hold.
	ErrorCodeManifestBlobUnknown = register(registryGroup, ErrorDescriptor{
		Value:          "MANIFEST_BLOB_UNKNOWN",
		Message:        "blob unknown to registry",
		Description:    "A config, layer or child manifest referenced by the manifest is missing.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	// ErrorCodeBlobUnknown is reported for blob fetches of absent content.
	ErrorCodeBlobUnknown = register(registryGroup, ErrorDescriptor{
		Value:          "BLOB_UNKNOWN",
		Message:        "blob unknown to registry",
		Description:    "No blob with the requested digest has been stored.",
		HTTPStatusCode: http.StatusNotFound,
	})

	// ErrorCodeBlobUploadUnknown is reported for upload sessions that were
	// never started, or have been finished, cancelled or purged.
	ErrorCodeBlobUploadUnknown = register(registryGroup, ErrorDescriptor{
		Value:          "BLOB_UPLOAD_UNKNOWN",
		Message:        "blob upload unknown to registry",
		Description:    "The upload ID does not name a live upload session.",
		HTTPStatusCode: http.StatusNotFound,
	})
)

// Register makes descriptor known under group and returns its new code.
// It panics if the descriptor's value is already taken.
func Register(group string, descriptor ErrorDescriptor) ErrorCode {
	return register(group, descriptor)
}

func register(group string, descriptor ErrorDescriptor) ErrorCode {
	registerLock.Lock()
	defer registerLock.Unlock()

	if _, ok := idToDescriptors[descriptor.Value]; ok {
		panic(fmt.Sprintf("error value %q is already registered", descriptor.Value))
	}

	descriptor.Code = ErrorCode(nextCode)
	nextCode++

	errorCodeToDescriptors[descriptor.Code] = descriptor
	idToDescriptors[descriptor.Value] = descriptor
	groupToDescriptors[group] = append(groupToDescriptors[group], descriptor)
	return descriptor.Code
}

// GetErrorCodeGroup returns the descriptors registered under name, sorted by
// value.
func GetErrorCodeGroup(name string) []ErrorDescriptor {
	registerLock.Lock()
	defer registerLock.Unlock()

	descs := append([]ErrorDescriptor(nil), groupToDescriptors[name]...)
	sortByValue(descs)
	return descs
}

// GetErrorAllDescriptors returns every registered descriptor, sorted by
// value.
func GetErrorAllDescriptors() []ErrorDescriptor {
	registerLock.Lock()
	defer registerLock.Unlock()

	descs := make([]ErrorDescriptor, 0, len(errorCodeToDescriptors))
	for _, d := range errorCodeToDescriptors {
		descs = append(descs, d)
	}
	sortByValue(descs)
	return descs
}

func sortByValue(descs []ErrorDescriptor) {
	sort.Slice(descs, func(i, j int) bool { return descs[i].Value < descs[j].Value })
}
