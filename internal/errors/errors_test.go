package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", NewNotFoundError("no records"), http.StatusNotFound, CodeNotFound, "no records"},
		{"bad request", NewBadRequestError("bad project"), http.StatusBadRequest, CodeBadRequest, "bad project"},
		{"external", WrapExternal(errors.New("dial tcp"), "status store unavailable"), http.StatusServiceUnavailable, CodeServiceUnavailable, "status store unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, CodeInternal, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMsg, body.Error.Message)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestAppErrorWrapping(t *testing.T) {
	cause := context.Canceled
	err := WrapInternal(context.Background(), cause, "pass aborted")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "pass aborted: context canceled", err.Error())

	detailed := NewNotFoundError("missing").WithDetail("run_id", "r1")
	assert.Equal(t, "r1", detailed.Details["run_id"])
}

func TestAppErrorEnvelope(t *testing.T) {
	env := NewNotFoundError("no records").WithDetail("run_id", "r1").Envelope("req-7")
	assert.Equal(t, CodeNotFound, env.Code)
	assert.Equal(t, "no records", env.Message)
	assert.Equal(t, "req-7", env.CorrelationID)
	assert.Equal(t, "r1", env.Context["run_id"])

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/r1/records", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	RespondWithError(rec, req, NewNotFoundError("no records").WithDetail("run_id", "r1"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Equal(t, "r1", body.Error.Details["run_id"])
}
