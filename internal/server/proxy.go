package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/contentmesh/gatekeeper/internal/core/breaker"
	apperrors "github.com/contentmesh/gatekeeper/internal/errors"
)

// NewUpstreamProxy returns a reverse proxy to the service fronted by this
// gateway. Transport failures are reported as EXTERNAL_SERVICE_ERROR envelopes.
func NewUpstreamProxy(target string, timeout time.Duration) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		HandleError(w, r, apperrors.WrapExternalService(r.Context(), err, "Upstream service unavailable"))
	}
	return proxy, nil
}

// GuardUpstream sends proxied calls through b. An open breaker is answered
// with 503 without contacting the upstream; a 5xx from next counts as a
// failure and a caller that went away counts as nothing.
func GuardUpstream(next http.Handler, b *breaker.Breaker) http.Handler {
	if b == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := b.Execute(r.Context(), func(ctx context.Context) error {
			rec := &upstreamStatus{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rec.status >= http.StatusInternalServerError {
				return fmt.Errorf("upstream returned %d", rec.status)
			}
			return nil
		})
		if errors.Is(err, breaker.ErrOpen) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(b.Timeout().Seconds()))))
			HandleError(w, r, apperrors.WrapServiceUnavailable(r.Context(), err, "Upstream circuit open"))
		}
	})
}

type upstreamStatus struct {
	http.ResponseWriter
	status int
}

func (u *upstreamStatus) WriteHeader(code int) {
	if u.status == 0 {
		u.status = code
	}
	u.ResponseWriter.WriteHeader(code)
}

func (u *upstreamStatus) Write(b []byte) (int, error) {
	if u.status == 0 {
		u.status = http.StatusOK
	}
	return u.ResponseWriter.Write(b)
}

func (u *upstreamStatus) Unwrap() http.ResponseWriter {
	return u.ResponseWriter
}
