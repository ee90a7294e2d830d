// Package ratelimit implements admission control shared by every instance of a
// service. Requests are counted in minute, hour and day sliding windows stored
// as sorted sets in the shared key-value store.
//
// The check-then-add sequence is not atomic across instances: two concurrent
// requests may both observe the same count and both be admitted. Store errors
// fail open.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/kv"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// ErrInvalidConfig is returned when a window limit is not positive.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

// Window names, in the order they are evaluated.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Config holds the per-identifier window limits.
type Config struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	RequestsPerHour   int    `mapstructure:"requests_per_hour"`
	RequestsPerDay    int    `mapstructure:"requests_per_day"`
	KeyPrefix         string `mapstructure:"key_prefix"`
	APIKeyHeader      string `mapstructure:"api_key_header"`
	PerEndpoint       bool   `mapstructure:"per_endpoint"`
	// TrustForwardedFor identifies callers by X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustForwardedFor bool   `mapstructure:"trust_forwarded_for"`
}

// DefaultConfig returns the limits applied when none are configured.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		KeyPrefix:         "rate_limit",
		APIKeyHeader:      "X-API-Key",
	}
}

// Validate fails on limits that would deny everything.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 || c.RequestsPerHour <= 0 || c.RequestsPerDay <= 0 {
		return fmt.Errorf("%w: window limits must be positive (minute=%d hour=%d day=%d)",
			ErrInvalidConfig, c.RequestsPerMinute, c.RequestsPerHour, c.RequestsPerDay)
	}
	if c.KeyPrefix == "" {
		return fmt.Errorf("%w: key_prefix is required", ErrInvalidConfig)
	}
	return nil
}

type window struct {
	name  string
	size  time.Duration
	limit int
}

// ttl is twice the window so in-flight windows are never evicted early.
func (w window) ttl() time.Duration {
	return 2 * w.size
}

// RateLimiter evaluates the three windows for an identifier.
type RateLimiter struct {
	Store  kv.Store
	Clock  func() time.Time
	Logger *logging.Logger

	prefix  string
	windows []window
}

// New validates cfg and builds a limiter over store.
func New(store kv.Store, cfg Config) (*RateLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RateLimiter{
		Store:  store,
		prefix: cfg.KeyPrefix,
		windows: []window{
			{name: WindowMinute, size: time.Minute, limit: cfg.RequestsPerMinute},
			{name: WindowHour, size: time.Hour, limit: cfg.RequestsPerHour},
			{name: WindowDay, size: 24 * time.Hour, limit: cfg.RequestsPerDay},
		},
	}, nil
}

// Check admits or denies a request for identifier on endpoint. An empty
// endpoint is counted against the global scope.
//
// All three windows are evaluated. The returned info belongs to the first
// denying window (minute, hour, day), or to the minute window when allowed.
func (r *RateLimiter) Check(ctx context.Context, identifier, endpoint string) (bool, core.RateLimitInfo) {
	allowed := true
	var surfaced *core.RateLimitInfo
	var minute core.RateLimitInfo

	for i, w := range r.windows {
		ok, info := r.checkWindow(ctx, w, identifier, endpoint)
		metrics.RecordRateLimitDecision(w.name, ok)
		if i == 0 {
			minute = info
		}
		if !ok {
			if surfaced == nil {
				denied := info
				surfaced = &denied
			}
			allowed = false
		}
	}

	if surfaced != nil {
		r.debug("Request rate limited",
			zap.String("identifier", identifier),
			zap.String("scope", scope(endpoint)),
			zap.String("window", surfaced.Window),
		)
		return allowed, *surfaced
	}
	return allowed, minute
}

func (r *RateLimiter) checkWindow(ctx context.Context, w window, identifier, endpoint string) (bool, core.RateLimitInfo) {
	now := r.now()
	key := r.Key(identifier, endpoint, w.size)
	info := core.RateLimitInfo{
		Window:    w.name,
		Limit:     w.limit,
		Remaining: w.limit,
		Reset:     now.Add(w.size),
	}

	floor := score(now.Add(-w.size))
	if _, err := r.Store.ZRemRangeByScore(ctx, key, negInf, floor); err != nil {
		r.failOpen(key, err)
		return true, info
	}

	count, err := r.Store.ZCard(ctx, key)
	if err != nil {
		r.failOpen(key, err)
		return true, info
	}

	if int(count) >= w.limit {
		info.Remaining = 0
		info.RetryAfter = w.size
		return false, info
	}

	if err := r.add(ctx, key, now, w.ttl()); err != nil {
		r.failOpen(key, err)
		return true, info
	}

	info.Remaining = w.limit - int(count) - 1
	return true, info
}

// RecordRequest adds the current instant to every window without checking
// limits. Store errors are logged and returned; callers may ignore them.
func (r *RateLimiter) RecordRequest(ctx context.Context, identifier, endpoint string) error {
	now := r.now()
	var errs []error
	for _, w := range r.windows {
		key := r.Key(identifier, endpoint, w.size)
		if err := r.add(ctx, key, now, w.ttl()); err != nil {
			r.warn("Failed to record request", key, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResetLimit deletes every window key for identifier on endpoint.
func (r *RateLimiter) ResetLimit(ctx context.Context, identifier, endpoint string) (int64, error) {
	keys := make([]string, 0, len(r.windows))
	for _, w := range r.windows {
		keys = append(keys, r.Key(identifier, endpoint, w.size))
	}
	n, err := r.Store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limit for %s: %w", identifier, err)
	}
	return n, nil
}

// Status reports the live count of each window without modifying it.
func (r *RateLimiter) Status(ctx context.Context, identifier, endpoint string) ([]core.RateLimitWindowStatus, error) {
	now := r.now()
	out := make([]core.RateLimitWindowStatus, 0, len(r.windows))
	for _, w := range r.windows {
		key := r.Key(identifier, endpoint, w.size)
		count, err := r.Store.ZCount(ctx, key, score(now.Add(-w.size)), posInf)
		if err != nil {
			return nil, fmt.Errorf("rate limit status for %s: %w", identifier, err)
		}
		out = append(out, core.RateLimitWindowStatus{
			Window: w.name,
			Key:    key,
			Limit:  w.limit,
			Count:  int(count),
		})
	}
	return out, nil
}

// Key returns the sorted-set key for one window.
func (r *RateLimiter) Key(identifier, endpoint string, size time.Duration) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, identifier, scope(endpoint), int64(size/time.Second))
}

func (r *RateLimiter) add(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	// Members carry a random suffix so requests landing on the same instant
	// are counted separately.
	member := strconv.FormatFloat(score(now), 'f', 6, 64) + ":" + uuid.NewString()
	if err := r.Store.ZAdd(ctx, key, score(now), member); err != nil {
		return err
	}
	return r.Store.Expire(ctx, key, ttl)
}

func (r *RateLimiter) failOpen(key string, err error) {
	metrics.RecordRateLimitStoreError()
	r.warn("Rate limit store unavailable, allowing request", key, err)
}

func (r *RateLimiter) warn(msg, key string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Warn(msg, zap.String("key", key), zap.Error(err))
}

func (r *RateLimiter) debug(msg string, fields ...zap.Field) {
	if r.Logger == nil {
		return
	}
	r.Logger.Debug(msg, fields...)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func scope(endpoint string) string {
	if endpoint == "" {
		return core.GlobalScope
	}
	return endpoint
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
