package metrics

import (
	"time"

	"github.com/contentmesh/gatekeeper/internal/observability"
)

// Traffic-control metrics
var (
	RateLimitDecisionsTotal   = "gatekeeper_rate_limit_decisions_total"
	RateLimitStoreErrorsTotal = "gatekeeper_rate_limit_store_errors_total"
	ThrottleDenialsTotal      = "gatekeeper_throttle_denials_total"

	CacheLookupsTotal       = "gatekeeper_cache_lookups_total"
	CacheStoresTotal        = "gatekeeper_cache_stores_total"
	CacheInvalidationsTotal = "gatekeeper_cache_invalidated_keys_total"

	BreakerTransitionsTotal = "gatekeeper_breaker_transitions_total"

	HealthProbesTotal   = "gatekeeper_health_probes_total"
	HealthProbeDuration = "gatekeeper_health_probe_duration_ms"
)

// RecordRateLimitDecision counts one window decision.
func RecordRateLimitDecision(window string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{
				"window": window,
				"result": result,
			},
		)
	}
}

// RecordRateLimitStoreError counts a window that failed open.
func RecordRateLimitStoreError() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitStoreErrorsTotal, 1, nil)
	}
}

// RecordThrottleDenial counts an outbound call denied by the local bucket.
func RecordThrottleDenial(resource, reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ThrottleDenialsTotal,
			1,
			map[string]string{
				"resource": resource,
				"reason":   reason,
			},
		)
	}
}

// RecordCacheLookup counts a lookup by result (hit, miss, error, bypass).
func RecordCacheLookup(result string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordCacheStore counts a stored response.
func RecordCacheStore(prefix string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheStoresTotal,
			1,
			map[string]string{"prefix": prefix},
		)
	}
}

// RecordCacheInvalidation adds the number of keys removed by one invalidation.
func RecordCacheInvalidation(scope string, count int64) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheInvalidationsTotal,
			float64(count),
			map[string]string{"scope": scope},
		)
	}
}

// RecordBreakerTransition counts a circuit breaker state change.
func RecordBreakerTransition(name, from, to string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BreakerTransitionsTotal,
			1,
			map[string]string{
				"breaker": name,
				"from":    from,
				"to":      to,
			},
		)
	}
}

// RecordHealthProbe records the outcome of one dependency check.
func RecordHealthProbe(service, health string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthProbesTotal,
			1,
			map[string]string{
				"service": service,
				"health":  health,
			},
		)

		if duration > 0 {
			_ = observability.TelemetrySystem.Histogram(
				HealthProbeDuration,
				duration,
				map[string]string{"service": service},
			)
		}
	}
}
