package server

import (
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/contentmesh/gatekeeper/internal/errors"
	"github.com/contentmesh/gatekeeper/internal/metrics"
	"github.com/contentmesh/gatekeeper/internal/observability"
	"github.com/contentmesh/gatekeeper/internal/server/handlers"
	servermw "github.com/contentmesh/gatekeeper/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/status", s.health.StatusHandler)
	s.router.Post("/health/trigger", s.health.TriggerHandler)

	s.router.Get("/version", handlers.NewVersionHandler(s.deps.ServiceName, s.started))
	s.router.Get("/metrics", MetricsHandler)

	s.registerAPIRoutes()
	s.registerAdminEndpoints()
}

// UpstreamResource names the throttle bucket shared by all proxied calls.
const UpstreamResource = "upstream"

// registerAPIRoutes mounts the upstream behind admission control, the response
// cache, and outbound pacing, in that order. Cache hits never reach the
// throttle.
func (s *Server) registerAPIRoutes() {
	if s.deps.Upstream == nil {
		return
	}

	prefix := "/" + strings.Trim(s.deps.APIPrefix, "/")
	s.router.Group(func(r chi.Router) {
		if s.deps.Limiter != nil {
			r.Use(servermw.RateLimit(s.deps.Limiter, s.deps.RateLimit))
		}
		if s.deps.Cache != nil {
			r.Use(servermw.Cache(s.deps.Cache))
		}
		if s.deps.Throttle != nil {
			r.Use(servermw.Throttle(s.deps.Throttle, UpstreamResource, s.deps.ThrottleMaxWait))
		}
		r.Handle(prefix, s.deps.Upstream)
		r.Handle(prefix+"/*", s.deps.Upstream)
	})
}

// registerAdminEndpoints registers token-protected operational endpoints when
// an admin token is configured.
func (s *Server) registerAdminEndpoints() {
	logger := observability.ServerLogger
	if s.deps.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin endpoints disabled (no admin token configured)")
		}
		return
	}

	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.deps.AdminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", signalHandler.ServeHTTP)

	if s.deps.Cache != nil {
		s.router.With(requireToken(s.deps.AdminToken)).
			Post("/admin/cache/invalidate", s.invalidateCacheHandler)
	}

	if logger != nil {
		logger.Info("Admin endpoints enabled",
			zap.Strings("paths", []string{"/admin/signal", "/admin/cache/invalidate"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoints enabled - ensure this server is not exposed to public internet")
	}
}

// invalidateCacheHandler drops cached responses for ?path=, or everything
// when no path is given.
func (s *Server) invalidateCacheHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")

	var (
		removed int64
		err     error
	)
	if path == "" {
		removed, err = s.deps.Cache.InvalidateAll(r.Context())
	} else {
		removed, err = s.deps.Cache.InvalidateEndpoint(r.Context(), path)
	}
	metrics.RecordOperation("cache_invalidate", err == nil)
	if err != nil {
		metrics.RecordOperationError("cache_invalidate", "store")
		HandleError(w, r, apperrors.WrapServiceUnavailable(r.Context(), err, "Cache invalidation failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"removed": removed,
	})
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				HandleError(w, r, apperrors.NewUnauthorizedError("Missing or invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
