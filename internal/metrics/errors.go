package metrics

import (
	"strconv"

	"github.com/contentmesh/gatekeeper/internal/observability"
)

// Error envelope metrics
const (
	ErrorsTotalName      = "gatekeeper_errors_total"
	PanicsTotalName      = "gatekeeper_panics_total"
	ErrorsByEndpointName = "gatekeeper_errors_by_endpoint_total"
)

// RecordError counts an error envelope written to a client.
func RecordError(errorCode string, httpStatus int) {
	counter(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a handler panic converted into a 500.
func RecordPanic() {
	counter(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error against a normalized route.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	counter(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

func counter(name string, labels map[string]string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(name, 1, labels)
}
