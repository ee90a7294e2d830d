package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/contentmesh/gatekeeper/internal/core/throttle"
)

// Throttler paces outbound work per resource within this process.
type Throttler interface {
	Acquire(ctx context.Context, resourceID string, cost int) (throttle.Decision, error)
	WaitIfNeeded(ctx context.Context, resourceID string, cost int) error
}

// Throttle holds each request until the local bucket for resource admits it.
// A request that cannot be admitted within maxWait is answered with 503,
// immediately when the bucket already reports a longer wait.
func Throttle(t Throttler, resource string, maxWait time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := t.Acquire(r.Context(), resource, 1)
			if err == nil && decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if err == nil && decision.RetryAfter > maxWait {
				rejectThrottled(w, r, resource, maxWait, decision.Reason, retryAfterSeconds(decision.RetryAfter))
				return
			}

			if err == nil {
				ctx, cancel := context.WithTimeout(r.Context(), maxWait)
				err = t.WaitIfNeeded(ctx, resource, 1)
				cancel()
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			if r.Context().Err() != nil {
				// Caller went away while queued.
				return
			}

			if errors.Is(err, context.DeadlineExceeded) {
				rejectThrottled(w, r, resource, maxWait, "", 1)
				return
			}
			envelope := gferrors.NewErrorEnvelope("INTERNAL_ERROR", "Upstream pacing failed").
				WithCorrelationID(GetRequestID(r.Context()))
			envelope, _ = envelope.WithContext(map[string]interface{}{"resource": resource})
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		})
	}
}

func rejectThrottled(w http.ResponseWriter, r *http.Request, resource string, maxWait time.Duration, reason string, retryAfter int) {
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(retryAfter))

	details := map[string]interface{}{
		"resource":    resource,
		"max_wait":    maxWait.String(),
		"retry_after": retryAfter,
	}
	if reason != "" {
		details["reason"] = reason
	}
	envelope := gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Upstream capacity exhausted").
		WithCorrelationID(GetRequestID(r.Context()))
	envelope, _ = envelope.WithContext(details)
	writeErrorResponse(w, envelope, http.StatusServiceUnavailable)
}
