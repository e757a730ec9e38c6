package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/flowstatus/internal/errors"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	t.Run("sets custom responder", func(t *testing.T) {
		called := false
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		})

		rec := httptest.NewRecorder()
		respondWithError(rec, httptest.NewRequest(http.MethodGet, "/test", nil), assert.AnError)

		assert.True(t, called)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil resets to default", func(t *testing.T) {
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusTeapot)
		})
		SetHTTPErrorResponder(nil)

		rec := httptest.NewRecorder()
		respondWithError(rec, httptest.NewRequest(http.MethodGet, "/test", nil), apperrors.NewNotFoundError("gone"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestResetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	customCalled := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
	})
	ResetHTTPErrorResponder()

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/test", nil), assert.AnError)

	assert.False(t, customCalled)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		status  int
		code    string
	}{
		{"not found", NotFound, http.MethodGet, http.StatusNotFound, apperrors.CodeNotFound},
		{"method not allowed", MethodNotAllowed, http.MethodPost, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/nowhere", nil))

			require.Equal(t, tt.status, rec.Code)
			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Contains(t, body.Error.Message, "/nowhere")
		})
	}
}
