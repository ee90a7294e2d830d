package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// CodeRateLimited is the envelope code and error metric label for denials.
const CodeRateLimited = "RATE_LIMITED"

// Admission decides whether a request may proceed.
type Admission interface {
	Check(ctx context.Context, identifier, endpoint string) (bool, core.RateLimitInfo)
}

// RateLimitOptions configures the RateLimit middleware.
type RateLimitOptions struct {
	// APIKeyHeader identifies callers by key; the client IP is used otherwise.
	APIKeyHeader string
	// PerEndpoint counts each path separately instead of one global budget.
	PerEndpoint bool
	// Exempt paths bypass admission control entirely.
	Exempt []string
}

// RateLimit rejects requests over budget with 429 and rate limit headers.
func RateLimit(limiter Admission, opts RateLimitOptions) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(opts.Exempt))
	for _, path := range opts.Exempt {
		exempt[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier := core.RequestIdentity(r, opts.APIKeyHeader)
			endpoint := ""
			if opts.PerEndpoint {
				endpoint = r.URL.Path
			}

			allowed, info := limiter.Check(r.Context(), identifier, endpoint)
			setRateLimitHeaders(w.Header(), info)

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := retryAfterSeconds(info.RetryAfter)
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))

			envelope := errors.NewErrorEnvelope(CodeRateLimited, "Rate limit exceeded").
				WithCorrelationID(GetRequestID(r.Context()))
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"window":      info.Window,
				"limit":       info.Limit,
				"retry_after": retryAfter,
			})

			metrics.RecordError(CodeRateLimited, http.StatusTooManyRequests)
			writeErrorResponse(w, envelope, http.StatusTooManyRequests)
		})
	}
}

func setRateLimitHeaders(h http.Header, info core.RateLimitInfo) {
	if info.Limit <= 0 {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
	if !info.Reset.IsZero() {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(info.Reset.Unix(), 10))
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
