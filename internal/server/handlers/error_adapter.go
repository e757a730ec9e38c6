package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/flowstatus/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error writer used by handlers. nil
// restores the default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default error writer.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// NotFound responds with a NOT_FOUND envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewNotFoundError("no route for "+r.URL.Path))
}

// MethodNotAllowed responds with a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewMethodNotAllowedError(r.Method+" not allowed on "+r.URL.Path))
}
