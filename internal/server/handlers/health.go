package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/contentmesh/gatekeeper/internal/core"
	apperrors "github.com/contentmesh/gatekeeper/internal/errors"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// LivenessResponse is returned by GET /health.
type LivenessResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse is returned by GET /health/ready.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker is a local dependency that must be reachable to serve traffic.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

// CheckHealth implements HealthChecker.
func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// Monitor is the downstream health monitor backing /health/status.
type Monitor interface {
	GetStatus() core.HealthReport
	Trigger(ctx context.Context) core.HealthReport
}

// HealthManager serves the liveness, readiness and dependency status routes.
type HealthManager struct {
	// RespondError writes failure envelopes. Nil uses the package default.
	RespondError func(http.ResponseWriter, *http.Request, error)

	service    string
	version    string
	checkers   map[string]HealthChecker
	degradable map[string]bool
	monitor    Monitor
}

// NewHealthManager creates a manager for the named service.
func NewHealthManager(service, version string, monitor Monitor) *HealthManager {
	return &HealthManager{
		service:    service,
		version:    version,
		checkers:   make(map[string]HealthChecker),
		degradable: make(map[string]bool),
		monitor:    monitor,
	}
}

// RegisterChecker registers a readiness check. A failing check makes the
// instance unready.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
	delete(hm.degradable, name)
}

// RegisterDegradableChecker registers a check whose failure is reported as
// degraded while the instance stays ready, for dependencies the request path
// tolerates losing.
func (hm *HealthManager) RegisterDegradableChecker(name string, checker HealthChecker) {
	hm.checkers[name] = checker
	hm.degradable[name] = true
}

// LivenessHandler reports that the process is up. It never touches dependencies.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Service: hm.service})
}

// ReadinessHandler runs the registered checks with a short timeout.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := determineOverallStatus(checks)

	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "readiness probe failed")
		envelope = enrichHealthEnvelope(envelope, status, checks)
		hm.respondError(w, r, envelope)
		return
	}

	writeJSON(w, http.StatusOK, ReadinessResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// StatusHandler returns the monitor's last known status for every dependency.
func (hm *HealthManager) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if hm.monitor == nil {
		hm.respondError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health monitor not configured"))
		return
	}
	writeJSON(w, http.StatusOK, hm.monitor.GetStatus())
}

// TriggerHandler runs an immediate sweep and returns the refreshed status.
func (hm *HealthManager) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if hm.monitor == nil {
		hm.respondError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health monitor not configured"))
		return
	}
	writeJSON(w, http.StatusOK, hm.monitor.Trigger(r.Context()))
}

func (hm *HealthManager) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if hm.RespondError != nil {
		hm.RespondError(w, r, err)
		return
	}
	apperrors.RespondWithError(w, r, err)
}

func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(hm.checkers))
	for name, checker := range hm.checkers {
		select {
		case <-ctx.Done():
			checks[name] = "timeout"
			continue
		default:
		}
		start := time.Now()
		err := checker.CheckHealth(ctx)
		metrics.RecordReadinessCheck(name, err == nil, time.Since(start))
		switch {
		case err != nil && hm.degradable[name]:
			checks[name] = "degraded"
		case err != nil:
			checks[name] = "unhealthy"
		default:
			checks[name] = "healthy"
		}
	}
	return checks
}

func determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "timeout" || status == "degraded" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	envelope = envelope.WithDetails(map[string]interface{}{
		"status": status,
		"checks": checks,
	})

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)

	envelope, _ = envelope.WithContext(map[string]interface{}{
		"status":           status,
		"unhealthy_checks": unhealthy,
	})
	return envelope
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
