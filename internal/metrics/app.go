package metrics

import (
	"time"

	"github.com/contentmesh/gatekeeper/internal/observability"
)

// Process-level metrics
const (
	// Administrative operations: cache invalidation and limit resets.
	OperationsTotal       = "gatekeeper_operations_total"
	OperationsErrorsTotal = "gatekeeper_operations_errors_total"

	ReadinessCheckTotal    = "gatekeeper_readiness_check_total"
	ReadinessCheckDuration = "gatekeeper_readiness_check_duration_ms"

	ServerStartTime = "gatekeeper_server_start_time_seconds"
	ServerUptime    = "gatekeeper_server_uptime_seconds"
)

// RecordOperation counts an administrative operation by outcome.
func RecordOperation(operation string, success bool) {
	counter(OperationsTotal, map[string]string{
		"operation": operation,
		"status":    outcome(success, "success", "failure"),
	})
}

// RecordOperationError counts a failed administrative operation by cause.
func RecordOperationError(operation string, errorType string) {
	counter(OperationsErrorsTotal, map[string]string{
		"operation":  operation,
		"error_type": errorType,
	})
}

// RecordReadinessCheck records one readiness check and its latency.
func RecordReadinessCheck(checkName string, healthy bool, duration time.Duration) {
	counter(ReadinessCheckTotal, map[string]string{
		"check":  checkName,
		"status": outcome(healthy, "healthy", "unhealthy"),
	})
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(ReadinessCheckDuration, duration, map[string]string{"check": checkName})
	}
}

// SetServerStartTime publishes the start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp))
}

// SetServerUptime publishes seconds since start.
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds))
}

func gauge(name string, value float64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, nil)
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
