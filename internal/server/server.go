package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/contentmesh/gatekeeper/internal/errors"
	"github.com/contentmesh/gatekeeper/internal/observability"
	"github.com/contentmesh/gatekeeper/internal/server/handlers"
	servermw "github.com/contentmesh/gatekeeper/internal/server/middleware"
)

// ResponseCache is the cache used by the cached route group and the admin API.
type ResponseCache interface {
	servermw.ResponseCache
	InvalidateAll(ctx context.Context) (int64, error)
}

// Deps are the process-wide components constructed at startup and shared by
// every request. Nil components disable the matching feature.
type Deps struct {
	ServiceName string
	Version     string

	// TrustForwardedFor rewrites RemoteAddr from proxy headers before
	// admission control sees it. Off, callers cannot pick their identity.
	TrustForwardedFor bool

	Limiter   servermw.Admission
	RateLimit servermw.RateLimitOptions
	Cache     ResponseCache
	Monitor   handlers.Monitor

	// Throttle paces calls to the upstream within this process. Requests
	// that cannot be admitted within ThrottleMaxWait get a 503.
	Throttle        servermw.Throttler
	ThrottleMaxWait time.Duration

	// Readiness checks gate /health/ready. Degradable checks only mark the
	// instance degraded, for dependencies the request path fails open on.
	Readiness  map[string]handlers.HealthChecker
	Degradable map[string]handlers.HealthChecker

	// Upstream serves everything under APIPrefix behind admission control
	// and the response cache.
	Upstream   http.Handler
	APIPrefix  string
	AdminToken string
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	deps    Deps
	health  *handlers.HealthManager
	host    string
	port    int
	started time.Time
}

// New creates a new HTTP server instance
func New(host string, port int, deps Deps) *Server {
	r := chi.NewRouter()

	if deps.TrustForwardedFor {
		r.Use(middleware.RealIP)
	}

	// RequestID → Metrics → Recovery
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	if deps.ServiceName == "" {
		deps.ServiceName = handlers.AppName
	}
	if deps.Version == "" {
		deps.Version = handlers.Version()
	}
	if deps.APIPrefix == "" {
		deps.APIPrefix = "/api"
	}
	if deps.ThrottleMaxWait <= 0 {
		deps.ThrottleMaxWait = 2 * time.Second
	}

	health := handlers.NewHealthManager(deps.ServiceName, deps.Version, deps.Monitor)
	health.RespondError = HandleError
	for name, checker := range deps.Readiness {
		health.RegisterChecker(name, checker)
	}
	for name, checker := range deps.Degradable {
		health.RegisterDegradableChecker(name, checker)
	}

	s := &Server{
		router:  r,
		deps:    deps,
		health:  health,
		host:    host,
		port:    port,
		started: time.Now(),
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
