package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/3leaps/flowstatus/internal/errors"
)

func TestRecovery_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	rec := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestRecovery_WithPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		Recovery(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
	assert.Contains(t, response.Error.Message, "panic: test panic")
}

func TestRecovery_WithPanicError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(assert.AnError)
	})

	rec := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "INTERNAL_ERROR", response.Error.Code)
	assert.Equal(t, "panic: "+assert.AnError.Error(), response.Error.Message)
}

func TestRecovery_WithRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic with request id")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")
	rec := httptest.NewRecorder()

	RequestID(Recovery(handler)).ServeHTTP(rec, req)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "test-req-123", response.Error.RequestID)
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(apperrors.RequestIDHeader))
}

func TestErrorHandler_IsSameAsRecovery(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test")
	})

	rec1 := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/test", nil))

	rec2 := httptest.NewRecorder()
	ErrorHandler(handler).ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, rec1.Code, rec2.Code)
	assert.Equal(t, rec1.Header().Get("Content-Type"), rec2.Header().Get("Content-Type"))
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		envelope   *errors.ErrorEnvelope
		statusCode int
		wantCode   string
		wantMsg    string
		wantID     string
	}{
		{
			name:       "basic error",
			envelope:   errors.NewErrorEnvelope("BAD_REQUEST", "bad input"),
			statusCode: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
			wantMsg:    "bad input",
		},
		{
			name: "error with correlation ID",
			envelope: errors.NewErrorEnvelope("NOT_FOUND", "no records for run").
				WithCorrelationID("req-1"),
			statusCode: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
			wantMsg:    "no records for run",
			wantID:     "req-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErrorResponse(rec, tt.envelope, tt.statusCode)

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
			assert.Equal(t, tt.wantCode, response.Error.Code)
			assert.Equal(t, tt.wantMsg, response.Error.Message)
			assert.Equal(t, tt.wantID, response.Error.RequestID)
		})
	}
}

func TestWriteErrorResponse_WithContext(t *testing.T) {
	envelope := errors.NewErrorEnvelope("NOT_FOUND", "no records for run")
	envelope, err := envelope.WithContext(map[string]interface{}{
		"run_id":  "RUN1",
		"project": "P1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, envelope, http.StatusNotFound)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "RUN1", response.Error.Details["run_id"])
	assert.Equal(t, "P1", response.Error.Details["project"])
}

func TestRecovery_CorrelatesRequestID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(apperrors.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	Recovery(handler).ServeHTTP(rec, req)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, apperrors.CodeInternal, response.Error.Code)
	assert.Equal(t, "req-42", response.Error.RequestID)
}

func TestLogger_RecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Logger(zap.New(core))(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/brew", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}
