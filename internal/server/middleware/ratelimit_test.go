package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/core"
)

type stubAdmission struct {
	allowed     bool
	info        core.RateLimitInfo
	identifiers []string
	endpoints   []string
}

func (s *stubAdmission) Check(_ context.Context, identifier, endpoint string) (bool, core.RateLimitInfo) {
	s.identifiers = append(s.identifiers, identifier)
	s.endpoints = append(s.endpoints, endpoint)
	return s.allowed, s.info
}

func okJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestRateLimitAllowsAndSetsHeaders(t *testing.T) {
	reset := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	limiter := &stubAdmission{allowed: true, info: core.RateLimitInfo{Window: "minute", Limit: 60, Remaining: 59, Reset: reset}}
	handler := RateLimit(limiter, RateLimitOptions{APIKeyHeader: "X-API-Key"})(http.HandlerFunc(okJSON))

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "59", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "1735689660", rec.Header().Get(HeaderRateLimitReset))
	assert.Empty(t, rec.Header().Get(HeaderRetryAfter))

	require.Len(t, limiter.identifiers, 1)
	assert.Equal(t, core.IdentityHash("key-1", ""), limiter.identifiers[0])
	assert.Equal(t, "", limiter.endpoints[0])
}

func TestRateLimitDenies(t *testing.T) {
	limiter := &stubAdmission{info: core.RateLimitInfo{
		Window:     "hour",
		Limit:      1000,
		Remaining:  0,
		Reset:      time.Now().Add(time.Hour),
		RetryAfter: time.Hour,
	}}
	called := false
	handler := RateLimit(limiter, RateLimitOptions{PerEndpoint: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "/api/articles", limiter.endpoints[0])

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, "hour", body.Error.Details["window"])
}

func TestRateLimitExemptPaths(t *testing.T) {
	limiter := &stubAdmission{}
	handler := RateLimit(limiter, RateLimitOptions{Exempt: []string{"/health"}})(http.HandlerFunc(okJSON))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, limiter.identifiers)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
