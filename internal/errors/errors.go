// Package errors carries application errors across the CLI and HTTP layers.
//
// An AppError pairs a stable machine-readable code with a message and, for
// the HTTP API, a status. Handlers return errors; RespondWithError renders
// them as gofulmen error envelopes, written as {"error": {...}}.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is an error with a code and HTTP status.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns e with key set in its details.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

func NewBadRequestError(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, Status: http.StatusBadRequest}
}

func NewMethodNotAllowedError(message string) *AppError {
	return &AppError{Code: CodeMethodNotAllowed, Message: message, Status: http.StatusMethodNotAllowed}
}

// NewExternalServiceError reports a dependency (status store, mail relay)
// that could not be reached.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// WrapExternal is NewExternalServiceError keeping the cause.
func WrapExternal(err error, message string) *AppError {
	e := NewExternalServiceError(message)
	e.Err = err
	return e
}

// WrapInternal wraps an unexpected error.
func WrapInternal(_ context.Context, err error, message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
}

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the error envelope written by RespondWithError.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// Envelope converts app into a gofulmen envelope correlated with
// requestID.
func (e *AppError) Envelope(requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// WriteEnvelope writes env with statusCode.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, statusCode int) {
	body := HTTPErrorResponse{Error: HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Context,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// RespondWithError writes err as an error envelope. Errors that are not
// AppErrors become 500s with a generic message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var app *AppError
	if !errors.As(err, &app) {
		app = WrapInternal(r.Context(), err, "internal error")
	}
	status := app.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteEnvelope(w, app.Envelope(r.Header.Get(RequestIDHeader)), status)
}
