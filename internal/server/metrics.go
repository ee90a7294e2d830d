package server

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/contentmesh/gatekeeper/internal/errors"
	"github.com/contentmesh/gatekeeper/internal/observability"
)

const prometheusContentType = "text/plain; version=0.0.4"

// metricsTransport carries scrapes to the local exporter.
var metricsTransport http.RoundTripper = &http.Transport{
	ResponseHeaderTimeout: 5 * time.Second,
}

// MetricsHandler serves the exporter's scrape output on the main listener so
// Prometheus needs only one port per instance.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	port := observability.GetMetricsPort()
	if port == 0 {
		port = observability.DefaultMetricsPort
	}
	target := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Path:   "/metrics",
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			out := target
			pr.Out.URL = &out
			pr.Out.Host = ""
		},
		Transport: metricsTransport,
		ModifyResponse: func(resp *http.Response) error {
			if resp.Header.Get("Content-Type") == "" {
				resp.Header.Set("Content-Type", prometheusContentType)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			envelope := apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable")
			if withCtx, ctxErr := envelope.WithContext(map[string]interface{}{"metrics_url": target.String()}); ctxErr == nil {
				envelope = withCtx
			}
			HandleError(w, r, envelope)
		},
	}
	proxy.ServeHTTP(w, r)
}
