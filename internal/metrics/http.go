package metrics

import (
	"strconv"
	"time"

	"github.com/contentmesh/gatekeeper/internal/observability"
)

// HTTP server metrics. Names follow the gofulmen HTTP conventions so shared
// dashboards work unchanged.
const (
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestDuration = "http_request_duration_ms"
	HTTPRequestSize     = "http_request_size_bytes"
	HTTPResponseSize    = "http_response_size_bytes"
	HTTPErrorsTotal     = "http_errors_total"
)

// HTTPRequest is one completed request as seen by the outermost middleware.
type HTTPRequest struct {
	Method        string
	Endpoint      string
	Status        int
	Duration      time.Duration
	RequestBytes  int64
	ResponseBytes int64

	// Cache is the X-Cache value set by the response cache, if any.
	Cache string
}

// ErrorClass buckets a status code for http_errors_total. Admission denials
// are kept apart from other client errors. It returns "" below 400.
func ErrorClass(status int) string {
	switch {
	case status == 429:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}

// RecordHTTPRequest emits the request counter, latency histogram, size
// gauges, and, for failures, the error counter.
func RecordHTTPRequest(req HTTPRequest) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := strconv.Itoa(req.Status)
	labels := map[string]string{
		"method":   req.Method,
		"endpoint": req.Endpoint,
		"status":   status,
	}
	if req.Cache != "" {
		labels["cache"] = req.Cache
	}
	_ = sys.Counter(HTTPRequestsTotal, 1, labels)
	_ = sys.Histogram(HTTPRequestDuration, req.Duration, labels)

	sizeLabels := map[string]string{"method": req.Method, "endpoint": req.Endpoint}
	_ = sys.Gauge(HTTPRequestSize, float64(req.RequestBytes), sizeLabels)
	_ = sys.Gauge(HTTPResponseSize, float64(req.ResponseBytes), sizeLabels)

	if class := ErrorClass(req.Status); class != "" {
		_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
			"method":     req.Method,
			"endpoint":   req.Endpoint,
			"status":     status,
			"error_type": class,
		})
	}
}
