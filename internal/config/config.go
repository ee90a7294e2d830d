package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/contentmesh/gatekeeper/internal/core/breaker"
	"github.com/contentmesh/gatekeeper/internal/core/health"
	"github.com/contentmesh/gatekeeper/internal/core/ratelimit"
	"github.com/contentmesh/gatekeeper/internal/core/respcache"
	"github.com/contentmesh/gatekeeper/internal/core/throttle"
	"github.com/contentmesh/gatekeeper/internal/kv"
)

// ErrInvalid is wrapped by every validation failure returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete gatekeeper configuration. Values are layered:
// embedded defaults, then an optional YAML file, then GATEKEEPER_* environment
// variables, then runtime overrides from CLI flags.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Redis     kv.Config        `mapstructure:"redis"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
	Cache     respcache.Config `mapstructure:"cache"`
	Throttle  throttle.Config  `mapstructure:"throttle"`
	Breaker   breaker.Config   `mapstructure:"breaker"`
	Health    health.Config    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ServiceName     string        `mapstructure:"service_name"`
	UpstreamURL     string        `mapstructure:"upstream_url"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	UpstreamMaxWait time.Duration `mapstructure:"upstream_max_wait"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Environment is stamped on every structured log record.
	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated exporter port; /metrics on the main port proxies it.
	Port int `mapstructure:"port"`
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive"))
	}
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.upstream_url %q is not an http(s) url", c.Server.UpstreamURL))
		}
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.api_prefix must start with /"))
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		errs = append(errs, fmt.Errorf("redis.url is required"))
	}

	if c.RateLimit.Enabled {
		if err := c.RateLimit.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit: %w", err))
		}
	}
	if c.Cache.Enabled {
		if err := c.Cache.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if err := c.Throttle.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("throttle: %w", err))
	}
	if err := c.Breaker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("breaker: %w", err))
	}
	if c.Health.Enabled {
		if err := c.Health.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("health: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
