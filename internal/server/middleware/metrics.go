package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/metrics"
	"github.com/contentmesh/gatekeeper/internal/observability"
)

// statusRecorder captures the status code and body size written by later
// handlers.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *statusRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// fixedEndpoints label requests that never reached a chi route.
var fixedEndpoints = map[string]string{
	"/":               "/",
	"/health":         "/health/*",
	"/health/ready":   "/health/*",
	"/health/status":  "/health/*",
	"/health/trigger": "/health/*",
	"/version":        "/version",
	"/metrics":        "/metrics",
}

// getEndpointPattern returns the matched chi route pattern, so proxied paths
// collapse to their prefix route. Unmatched paths become "/unknown".
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if endpoint, ok := fixedEndpoints[r.URL.Path]; ok {
		return endpoint
	}
	return "/unknown"
}

// quietEndpoint reports probe and scrape traffic, which is logged at debug.
func quietEndpoint(endpoint string) bool {
	return endpoint == "/metrics" || strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics records one HTTP metric set and one access log entry per
// request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := observability.ServerLogger
		if observability.TelemetrySystem == nil && logger == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		requestBytes := r.ContentLength
		if requestBytes < 0 {
			requestBytes, _ = strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64)
		}

		sample := metrics.HTTPRequest{
			Method:        r.Method,
			Endpoint:      getEndpointPattern(r),
			Status:        rec.code(),
			Duration:      time.Since(start),
			RequestBytes:  requestBytes,
			ResponseBytes: rec.written,
			Cache:         rec.Header().Get(HeaderCache),
		}
		metrics.RecordHTTPRequest(sample)

		if logger == nil {
			return
		}
		log := logger.Info
		if quietEndpoint(sample.Endpoint) {
			log = logger.Debug
		}
		log("HTTP request completed",
			zap.String("method", sample.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", sample.Endpoint),
			zap.Int("status", sample.Status),
			zap.Duration("duration", sample.Duration),
			zap.Int64("request_size", sample.RequestBytes),
			zap.Int64("response_size", sample.ResponseBytes),
			zap.String("cache", sample.Cache),
			zap.String("requestID", GetRequestID(r.Context())),
		)
	})
}
