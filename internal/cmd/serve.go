package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/config"
	"github.com/contentmesh/gatekeeper/internal/core/breaker"
	"github.com/contentmesh/gatekeeper/internal/core/health"
	"github.com/contentmesh/gatekeeper/internal/core/ratelimit"
	"github.com/contentmesh/gatekeeper/internal/core/respcache"
	"github.com/contentmesh/gatekeeper/internal/core/throttle"
	errwrap "github.com/contentmesh/gatekeeper/internal/errors"
	"github.com/contentmesh/gatekeeper/internal/kv"
	"github.com/contentmesh/gatekeeper/internal/metrics"
	"github.com/contentmesh/gatekeeper/internal/observability"
	"github.com/contentmesh/gatekeeper/internal/server"
	"github.com/contentmesh/gatekeeper/internal/server/handlers"
	servermw "github.com/contentmesh/gatekeeper/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the gateway with graceful shutdown support.

Requests under server.api_prefix are admitted by the Redis-backed sliding-window
limiter, served from the response cache when possible, paced by the local token
bucket, and proxied to server.upstream_url. Downstream services listed under
health.services are probed in the background; see /health/status.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate the config file (restart to apply changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		observability.InitServerLogger(cfg.Server.ServiceName, cfg.Logging.Level, cfg.Logging.Environment, cfg.Server.ServiceName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(cfg.Server.ServiceName, cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing server",
			zap.String("service", cfg.Server.ServiceName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("upstream", cfg.Server.UpstreamURL),
			zap.String("redis", redactURL(cfg.Redis.URL)))

		shared, err := dialStore(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("Shared store misconfigured", zap.Error(err))
			return err
		}

		deps := server.Deps{
			ServiceName:       cfg.Server.ServiceName,
			Version:           versionInfo.Version,
			APIPrefix:         cfg.Server.APIPrefix,
			AdminToken:        cfg.Server.AdminToken,
			ThrottleMaxWait:   cfg.Server.UpstreamMaxWait,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
			Readiness:         map[string]handlers.HealthChecker{},
			Degradable: map[string]handlers.HealthChecker{
				"redis": handlers.CheckerFunc(kv.Healthcheck(shared.client)),
			},
			RateLimit: servermw.RateLimitOptions{
				APIKeyHeader: cfg.RateLimit.APIKeyHeader,
				PerEndpoint:  cfg.RateLimit.PerEndpoint,
			},
		}
		if cfg.Metrics.Enabled {
			deps.Readiness["telemetry"] = telemetryHealthChecker{}
		}

		if cfg.RateLimit.Enabled {
			limiter, err := ratelimit.New(shared.store, cfg.RateLimit)
			if err != nil {
				return err
			}
			limiter.Logger = logger
			deps.Limiter = limiter
		}

		if cfg.Cache.Enabled {
			cache, err := respcache.New(shared.store, cfg.Cache)
			if err != nil {
				return err
			}
			cache.Logger = logger
			deps.Cache = cache
		}

		pacer, err := throttle.New(cfg.Throttle)
		if err != nil {
			return err
		}
		pacer.Logger = logger
		deps.Throttle = pacer

		var monitor *health.Monitor
		if cfg.Health.Enabled {
			monitor, err = health.NewMonitor(cfg.Health, cfg.Breaker, health.WithLogger(logger))
			if err != nil {
				return err
			}
			deps.Monitor = monitor
		}

		if cfg.Server.UpstreamURL != "" {
			proxy, err := server.NewUpstreamProxy(cfg.Server.UpstreamURL, cfg.Server.UpstreamTimeout)
			if err != nil {
				return errwrap.WrapInvalidInput(cmd.Context(), err, "invalid upstream")
			}
			guard, err := upstreamBreaker(monitor, cfg.Breaker, logger)
			if err != nil {
				return err
			}
			deps.Upstream = server.GuardUpstream(proxy, guard)
		} else {
			logger.Warn("No upstream configured; API routes are disabled")
		}

		srv := server.New(cfg.Server.Host, cfg.Server.Port, deps)

		runCtx, cancelRun := context.WithCancel(context.Background())
		defer cancelRun()
		if monitor != nil {
			monitor.Start(runCtx)
		}

		startedAt := time.Now()
		metrics.SetServerStartTime(startedAt.Unix())
		go reportUptime(runCtx, startedAt)

		// Shutdown handlers run LIFO: HTTP server, then monitor, then store, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter stop failed", zap.Error(err))
			}
			if err := shared.Close(); err != nil {
				logger.Warn("Closing shared store client failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			cancelRun()
			if monitor != nil {
				monitor.Stop()
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: validating configuration")
			if _, err := config.Load(cfgFile); err != nil {
				logger.Error("Configuration reload rejected", zap.Error(err))
				return err
			}
			logger.Info("Configuration is valid; restart to apply changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func reportUptime(ctx context.Context, startedAt time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}

// upstreamBreaker shares the monitor's breaker when the upstream is also a
// monitored service named "upstream", so probes and live traffic trip the
// same circuit. Otherwise the proxy gets a breaker of its own.
func upstreamBreaker(monitor *health.Monitor, cfg breaker.Config, logger *logging.Logger) (*breaker.Breaker, error) {
	if monitor != nil {
		if b, ok := monitor.Breaker(server.UpstreamResource); ok {
			return b, nil
		}
	}

	b, err := breaker.New(server.UpstreamResource, cfg)
	if err != nil {
		return nil, err
	}
	b.OnStateChange = func(name string, from, to breaker.State) {
		metrics.RecordBreakerTransition(name, string(from), string(to))
		if logger != nil {
			logger.Info("Circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
		}
	}
	return b, nil
}
