package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeTimeout:            http.StatusGatewayTimeout,
		CodeExternalService:    http.StatusBadGateway,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeInternal:           http.StatusInternalServerError,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestEnsureEnvelope(t *testing.T) {
	env := NewNotFoundError("missing")
	assert.Same(t, env, EnsureEnvelope(env))

	plain := EnsureEnvelope(fmt.Errorf("disk on fire"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, "disk on fire", plain.Context["wrapped_error"])

	assert.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}

func TestWrapUsesRequestID(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	env := WrapExternalService(ctx, fmt.Errorf("connection refused"), "upstream down")
	assert.Equal(t, CodeExternalService, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, "connection refused", env.Context["wrapped_error"])
}

func TestEnsureCorrelationIDFallback(t *testing.T) {
	env := EnsureCorrelationID(NewInternalError("x"), context.Background())
	assert.Contains(t, env.CorrelationID, "fallback-")
	assert.Nil(t, EnsureCorrelationID(nil, context.Background()))
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()

	env, err := gferrors.NewErrorEnvelope(CodeRateLimited, "slow down").WithContext(map[string]interface{}{"window": "minute"})
	require.NoError(t, err)
	RespondWithError(rec, req, env)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeRateLimited, body.Error.Code)
	assert.Equal(t, "slow down", body.Error.Message)
	assert.Equal(t, "minute", body.Error.Details["window"])
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestResponseDetailsMergesContext(t *testing.T) {
	assert.Nil(t, ResponseDetails(nil))

	env, err := gferrors.NewErrorEnvelope(CodeInvalidInput, "bad").
		WithContext(map[string]interface{}{"field": "limit"})
	require.NoError(t, err)
	assert.Equal(t, "limit", ResponseDetails(env)["field"])
}

func TestEnsureEnvelopeUnwrapsAndClassifies(t *testing.T) {
	inner := NewServiceUnavailableError("redis down")
	wrapped := fmt.Errorf("readiness: %w", inner)
	assert.Same(t, inner, EnsureEnvelope(wrapped))

	timeout := EnsureEnvelope(fmt.Errorf("probe: %w", context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, timeout.Code)
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusFromEnvelope(timeout))
}

func TestRespondWithNilEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
