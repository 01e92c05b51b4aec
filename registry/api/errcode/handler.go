package errcode

import (
	"encoding/json"
	"net/http"
)

// ServeJSON writes err as an errors envelope with the status of its first
// coded error. Anything without a code is reported as a 500.
func ServeJSON(w http.ResponseWriter, err error) error {
	errs, ok := err.(Errors)
	if !ok {
		errs = Errors{err}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(errs))

	return json.NewEncoder(w).Encode(errs)
}

func statusCode(errs Errors) int {
	if len(errs) > 0 {
		if coder, ok := errs[0].(ErrorCoder); ok {
			if sc := coder.ErrorCode().Descriptor().HTTPStatusCode; sc != 0 {
				return sc
			}
		}
	}
	return http.StatusInternalServerError
}
