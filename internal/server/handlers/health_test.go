package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ok", stubChecker{err: nil})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy status, got %s", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Fatalf("expected version 1.2.3, got %s", resp.Version)
	}
	if resp.Checks["ok"] != "healthy" {
		t.Fatalf("expected ok check to be healthy, got %s", resp.Checks["ok"])
	}
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("statusdb", stubChecker{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE error code, got %s", resp.Error.Code)
	}

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks in error details")
	}
	if status, ok := checks["statusdb"].(string); !ok || status != "unhealthy" {
		t.Fatalf("expected statusdb check to be unhealthy, got %v", checks["statusdb"])
	}
}

func TestHealthHandlerTimeoutIsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("statusdb", stubChecker{err: context.DeadlineExceeded})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", resp.Status)
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")

	tests := []struct {
		name    string
		results map[string]string
		want    string
	}{
		{"empty", map[string]string{}, "healthy"},
		{"timeout", map[string]string{"db": "timeout"}, "degraded"},
		{"unhealthy wins", map[string]string{"db": "timeout", "lims": "unhealthy"}, "unhealthy"},
		{"all healthy", map[string]string{"db": "healthy", "lims": "healthy"}, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := manager.determineOverallStatus(tt.results); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLivenessHandlerSkipsChecks(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("statusdb", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReadinessHandlerRunsChecks(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("statusdb", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestRegisterCheckerReplaces(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("statusdb", stubChecker{err: errors.New("down")})
	manager.RegisterChecker("statusdb", HealthCheckerFunc(func(context.Context) error { return nil }))

	results := manager.runChecks(context.Background())
	if len(results) != 1 || results["statusdb"] != "healthy" {
		t.Fatalf("expected one healthy check, got %v", results)
	}
}
