// Package throttle gates outbound calls made by a single process.
//
// Each resource (typically a third-party platform) gets its own token bucket
// refilled at requests_per_minute/60 tokens per second and capped at the burst
// size, plus a trailing-hour ceiling that applies regardless of tokens. State
// never leaves the process: two workers each get an independent budget.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// ReasonHourlyLimit is reported when the trailing-hour ceiling denies a call.
const ReasonHourlyLimit = "Hourly limit reached"

// ReasonTokens is reported when the bucket lacks tokens for the requested cost.
const ReasonTokens = "Rate limit exceeded"

var (
	// ErrInvalidConfig is returned when limits cannot be enforced.
	ErrInvalidConfig = errors.New("throttle: invalid configuration")

	// ErrInvalidCost is returned for a cost below one or above the burst size.
	ErrInvalidCost = errors.New("throttle: invalid cost")
)

// Limits configures one bucket.
type Limits struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour" json:"requests_per_hour"`
	BurstSize         int `mapstructure:"burst_size" json:"burst_size"`
}

// Validate rejects limits that would never admit a call.
func (l Limits) Validate() error {
	if l.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: requests_per_minute must be positive", ErrInvalidConfig)
	}
	if l.RequestsPerHour <= 0 {
		return fmt.Errorf("%w: requests_per_hour must be positive", ErrInvalidConfig)
	}
	if l.BurstSize <= 0 {
		return fmt.Errorf("%w: burst_size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Config is the throttle section of the service configuration.
type Config struct {
	Limits    `mapstructure:",squash"`
	Resources map[string]Limits `mapstructure:"resources" json:"resources,omitempty"`
}

// DefaultConfig returns limits suited to a typical scraping worker.
func DefaultConfig() Config {
	return Config{
		Limits: Limits{
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			BurstSize:         10,
		},
	}
}

// Validate checks the default limits and every per-resource override.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	for name, limits := range c.Resources {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty resource name", ErrInvalidConfig)
		}
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
	}
	return nil
}

// Decision is the outcome of a single Acquire call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

// Err converts a denial into a *LimitError. It returns nil for allowed calls.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{RetryAfter: d.RetryAfter, Reason: d.Reason}
}

// LimitError carries the structured wait time for a denied call.
type LimitError struct {
	Resource   string
	RetryAfter time.Duration
	Reason     string
}

func (e *LimitError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s for %s, retry after %s", e.Reason, e.Resource, e.RetryAfter)
	}
	return fmt.Sprintf("%s, retry after %s", e.Reason, e.RetryAfter)
}

// Limiter is a registry of per-resource buckets.
type Limiter struct {
	Clock  func() time.Time
	Logger *logging.Logger

	defaults  Limits
	overrides map[string]Limits

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	mu      sync.Mutex
	limits  Limits
	tokens  *rate.Limiter
	history []time.Time
}

// New builds a limiter after validating cfg.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	overrides := make(map[string]Limits, len(cfg.Resources))
	for name, limits := range cfg.Resources {
		overrides[strings.TrimSpace(name)] = limits
	}
	return &Limiter{
		defaults:  cfg.Limits,
		overrides: overrides,
		buckets:   make(map[string]*bucket),
	}, nil
}

// Acquire refills the resource's bucket and tries to spend cost tokens.
//
// The hourly ceiling is checked before tokens. A denial is reported through
// the returned Decision; the error is reserved for invalid input and context
// cancellation.
func (l *Limiter) Acquire(ctx context.Context, resourceID string, cost int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	b := l.bucket(resourceID)
	if cost < 1 || cost > b.limits.BurstSize {
		return Decision{}, fmt.Errorf("%w: %d (burst %d)", ErrInvalidCost, cost, b.limits.BurstSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.prune(now)

	if len(b.history) >= b.limits.RequestsPerHour {
		retry := time.Hour - now.Sub(b.history[0])
		if retry < 0 {
			retry = 0
		}
		l.logDenied(resourceID, ReasonHourlyLimit, retry)
		return Decision{RetryAfter: retry, Reason: ReasonHourlyLimit}, nil
	}

	if !b.tokens.AllowN(now, cost) {
		missing := float64(cost) - b.tokens.TokensAt(now)
		retry := time.Duration(missing / float64(b.tokens.Limit()) * float64(time.Second))
		if retry <= 0 {
			retry = time.Millisecond
		}
		l.logDenied(resourceID, ReasonTokens, retry)
		return Decision{RetryAfter: retry, Reason: ReasonTokens}, nil
	}

	b.history = append(b.history, now)
	return Decision{Allowed: true}, nil
}

// WaitIfNeeded blocks until Acquire admits the call, sleeping exactly the
// reported retry duration between attempts.
func (l *Limiter) WaitIfNeeded(ctx context.Context, resourceID string, cost int) error {
	for {
		decision, err := l.Acquire(ctx, resourceID, cost)
		if err != nil {
			return err
		}
		if decision.Allowed {
			return nil
		}

		timer := time.NewTimer(decision.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens reports the tokens currently available for a resource.
func (l *Limiter) Tokens(resourceID string) float64 {
	b := l.bucket(resourceID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens.TokensAt(l.now())
}

// LimitsFor returns the limits applied to a resource.
func (l *Limiter) LimitsFor(resourceID string) Limits {
	if limits, ok := l.overrides[strings.TrimSpace(resourceID)]; ok {
		return limits
	}
	return l.defaults
}

func (l *Limiter) bucket(resourceID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[resourceID]; ok {
		return b
	}

	limits := l.LimitsFor(resourceID)
	lim := rate.NewLimiter(rate.Limit(float64(limits.RequestsPerMinute)/60), limits.BurstSize)
	// Full as of first access.
	lim.SetBurstAt(l.now(), limits.BurstSize)
	b := &bucket{limits: limits, tokens: lim}
	l.buckets[resourceID] = b
	return b
}

func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	idx := 0
	for idx < len(b.history) && !b.history[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.history = append(b.history[:0], b.history[idx:]...)
	}
}

func (l *Limiter) logDenied(resourceID, reason string, retry time.Duration) {
	metrics.RecordThrottleDenial(resourceID, reason)
	if l.Logger == nil {
		return
	}
	l.Logger.Debug("Outbound call throttled",
		zap.String("resource", resourceID),
		zap.String("reason", reason),
		zap.Duration("retry_after", retry),
	)
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
