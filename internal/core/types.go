package core

import "time"

// HealthState is the health of a single monitored dependency.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthUnhealthy   HealthState = "unhealthy"
	HealthUnknown     HealthState = "unknown"
	HealthCircuitOpen HealthState = "circuit_open"
)

// OverallHealth aggregates the health of every monitored dependency.
type OverallHealth string

const (
	OverallHealthy   OverallHealth = "healthy"
	OverallDegraded  OverallHealth = "degraded"
	OverallUnhealthy OverallHealth = "unhealthy"
)

// ServiceStatus captures the last known health of a dependency.
type ServiceStatus struct {
	Name                string      `json:"name" yaml:"name"`
	Health              HealthState `json:"health" yaml:"health"`
	LastCheck           *time.Time  `json:"last_check" yaml:"last_check"`
	ResponseTimeMS      *float64    `json:"response_time_ms" yaml:"response_time_ms"`
	ErrorMessage        *string     `json:"error_message" yaml:"error_message"`
	ConsecutiveFailures int         `json:"consecutive_failures" yaml:"consecutive_failures"`
	TotalChecks         int         `json:"total_checks" yaml:"total_checks"`
	SuccessfulChecks    int         `json:"successful_checks" yaml:"successful_checks"`
	UptimePercentage    float64     `json:"uptime_percentage" yaml:"uptime_percentage"`
	CircuitState        string      `json:"circuit_state" yaml:"circuit_state"`
}

// Uptime returns successful checks as a percentage of all checks.
func (s ServiceStatus) Uptime() float64 {
	if s.TotalChecks == 0 {
		return 0
	}
	return float64(s.SuccessfulChecks) / float64(s.TotalChecks) * 100
}

// HealthReport is the system-wide view served by /health/status.
type HealthReport struct {
	OverallHealth OverallHealth            `json:"overall_health" yaml:"overall_health"`
	Timestamp     time.Time                `json:"timestamp" yaml:"timestamp"`
	Services      map[string]ServiceStatus `json:"services" yaml:"services"`
}
