package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contentmesh/gatekeeper/internal/core"
)

type stubMonitor struct {
	report    core.HealthReport
	triggered int
}

func (s *stubMonitor) GetStatus() core.HealthReport {
	return s.report
}

func (s *stubMonitor) Trigger(ctx context.Context) core.HealthReport {
	s.triggered++
	s.report.OverallHealth = core.OverallHealthy
	return s.report
}

func TestLivenessHandlerNeverChecksDependencies(t *testing.T) {
	manager := NewHealthManager("content-api", "1.2.3", nil)
	manager.RegisterChecker("redis", CheckerFunc(func(ctx context.Context) error {
		t.Fatal("liveness must not run dependency checks")
		return nil
	}))

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp LivenessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "content-api" {
		t.Fatalf("unexpected liveness body: %+v", resp)
	}
}

func TestReadinessHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("content-api", "1.2.3", nil)
	manager.RegisterChecker("redis", CheckerFunc(func(ctx context.Context) error {
		return errors.New("down")
	}))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE error code, got %s", resp.Error.Code)
	}
	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	if !ok || checks["redis"] != "unhealthy" {
		t.Fatalf("expected redis check to be unhealthy, got %v", resp.Error.Details["checks"])
	}
}

func TestReadinessHandlerStaysReadyWhenDegradableCheckFails(t *testing.T) {
	manager := NewHealthManager("content-api", "1.2.3", nil)
	manager.RegisterDegradableChecker("redis", CheckerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	manager.RegisterChecker("telemetry", CheckerFunc(func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["redis"] != "degraded" || resp.Checks["telemetry"] != "healthy" {
		t.Fatalf("unexpected readiness response %+v", resp)
	}
}

func TestReadinessHandlerHealthy(t *testing.T) {
	manager := NewHealthManager("content-api", "1.2.3", nil)
	manager.RegisterChecker("redis", CheckerFunc(func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	manager.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Fatalf("unexpected readiness response %d %+v", rec.Code, resp)
	}
}

func TestStatusAndTriggerHandlers(t *testing.T) {
	checked := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	monitor := &stubMonitor{report: core.HealthReport{
		OverallHealth: core.OverallDegraded,
		Timestamp:     checked,
		Services: map[string]core.ServiceStatus{
			"ledger": {Name: "ledger", Health: core.HealthHealthy, LastCheck: &checked, TotalChecks: 1, SuccessfulChecks: 1},
		},
	}}
	manager := NewHealthManager("content-api", "1.2.3", monitor)

	rec := httptest.NewRecorder()
	manager.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/health/status", nil))

	var report map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report["overall_health"] != "degraded" {
		t.Fatalf("expected degraded, got %v", report["overall_health"])
	}
	if _, ok := report["timestamp"]; !ok {
		t.Fatal("expected timestamp in status report")
	}
	services, ok := report["services"].(map[string]interface{})
	if !ok || services["ledger"] == nil {
		t.Fatalf("expected ledger service in report, got %v", report["services"])
	}

	rec = httptest.NewRecorder()
	manager.TriggerHandler(rec, httptest.NewRequest(http.MethodPost, "/health/trigger", nil))
	if monitor.triggered != 1 {
		t.Fatalf("expected one triggered sweep, got %d", monitor.triggered)
	}
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report["overall_health"] != "healthy" {
		t.Fatalf("expected refreshed status, got %v", report["overall_health"])
	}
}

func TestStatusHandlerWithoutMonitor(t *testing.T) {
	manager := NewHealthManager("content-api", "dev", nil)

	rec := httptest.NewRecorder()
	manager.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/health/status", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	if status := determineOverallStatus(map[string]string{"redis": "timeout"}); status != "degraded" {
		t.Fatalf("expected degraded status, got %s", status)
	}
}
