package health

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is returned for bad intervals or service definitions.
var ErrInvalidConfig = errors.New("health: invalid configuration")

// ErrUnknownService is returned when a check names an unmonitored service.
var ErrUnknownService = errors.New("health: unknown service")

// DefaultHealthPath is probed when a service does not set one.
const DefaultHealthPath = "/health"

// Service is one monitored dependency.
type Service struct {
	Name       string `mapstructure:"name" json:"name"`
	URL        string `mapstructure:"url" json:"url"`
	HealthPath string `mapstructure:"health_path" json:"health_path,omitempty"`
}

// Endpoint returns the probe URL.
func (s Service) Endpoint() string {
	path := s.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	return strings.TrimRight(s.URL, "/") + path
}

// Config is the health section of the service configuration.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Services      []Service     `mapstructure:"services"`
}

// DefaultConfig probes every 30s with a 5s timeout.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Validate checks intervals and that every service is addressable.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check_interval must be positive", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			return fmt.Errorf("%w: service name is required", ErrInvalidConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate service %s", ErrInvalidConfig, name)
		}
		seen[name] = true

		u, err := url.Parse(svc.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: service %s has invalid url %q", ErrInvalidConfig, name, svc.URL)
		}
		if svc.HealthPath != "" && !strings.HasPrefix(svc.HealthPath, "/") {
			return fmt.Errorf("%w: service %s health_path must start with /", ErrInvalidConfig, name)
		}
	}
	return nil
}
