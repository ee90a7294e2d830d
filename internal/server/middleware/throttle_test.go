package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/core/throttle"
)

func TestThrottlePassesWithinBurst(t *testing.T) {
	limiter, err := throttle.New(throttle.Config{Limits: throttle.Limits{
		RequestsPerMinute: 60, RequestsPerHour: 100, BurstSize: 2,
	}})
	require.NoError(t, err)

	var calls atomic.Int32
	h := Throttle(limiter, "upstream", 10*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestThrottleRejectsImmediatelyWhenWaitExceedsMaxWait(t *testing.T) {
	limiter, err := throttle.New(throttle.Config{Limits: throttle.Limits{
		RequestsPerMinute: 1, RequestsPerHour: 100, BurstSize: 1,
	}})
	require.NoError(t, err)

	var calls atomic.Int32
	h := Throttle(limiter, "upstream", 2*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	require.Equal(t, http.StatusOK, first.Code)

	start := time.Now()
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Equal(t, "60", second.Header().Get(HeaderRetryAfter))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	assert.Equal(t, "upstream", body.Error.Details["resource"])
	assert.Equal(t, throttle.ReasonTokens, body.Error.Details["reason"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestThrottleHourlyCeilingIsNotHeld(t *testing.T) {
	limiter, err := throttle.New(throttle.Config{Limits: throttle.Limits{
		RequestsPerMinute: 600, RequestsPerHour: 1, BurstSize: 5,
	}})
	require.NoError(t, err)

	h := Throttle(limiter, "upstream", 2*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	require.Equal(t, http.StatusOK, first.Code)

	start := time.Now()
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.Equal(t, "3600", second.Header().Get(HeaderRetryAfter))
}

func TestThrottleWaitsWhenRetryFitsMaxWait(t *testing.T) {
	limiter, err := throttle.New(throttle.Config{Limits: throttle.Limits{
		RequestsPerMinute: 600, RequestsPerHour: 100, BurstSize: 1,
	}})
	require.NoError(t, err)

	var calls atomic.Int32
	h := Throttle(limiter, "upstream", time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

// stalledThrottler denies with a short retry, then never admits the wait.
type stalledThrottler struct{}

func (stalledThrottler) Acquire(context.Context, string, int) (throttle.Decision, error) {
	return throttle.Decision{RetryAfter: 5 * time.Millisecond, Reason: throttle.ReasonTokens}, nil
}

func (stalledThrottler) WaitIfNeeded(ctx context.Context, _ string, _ int) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestThrottleRejectsAfterMaxWait(t *testing.T) {
	h := Throttle(stalledThrottler{}, "upstream", 20*time.Millisecond)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRetryAfter))
}

type failingThrottler struct{ err error }

func (f failingThrottler) Acquire(context.Context, string, int) (throttle.Decision, error) {
	return throttle.Decision{}, f.err
}

func (f failingThrottler) WaitIfNeeded(context.Context, string, int) error { return f.err }

func TestThrottleInvalidCostIsInternalError(t *testing.T) {
	h := Throttle(failingThrottler{err: errors.New("bad cost")}, "upstream", time.Second)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
