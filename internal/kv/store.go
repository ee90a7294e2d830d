// Package kv is the shared key-value store client used by every component of
// the traffic-control layer that needs state visible across process instances.
//
// The Store interface is the narrow contract consumed by the rate limiter and
// the response cache. RedisStore implements it on top of go-redis; each method
// is a single round trip except DeletePattern, which scans then deletes.
package kv

import (
	"context"
	"time"
)

// Store is the subset of a remote in-memory data store the traffic-control
// layer relies on. Every method may block on network I/O and must honour ctx.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)

	Scan(ctx context.Context, pattern string) ([]string, error)
	DeletePattern(ctx context.Context, pattern string) (int64, error)

	Ping(ctx context.Context) error
}

// Config contains connection settings for the shared store.
type Config struct {
	URL            string        `mapstructure:"url"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ScanBatchSize  int           `mapstructure:"scan_batch_size"`
}

// DefaultConfig returns the connection defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		URL:            "redis://localhost:6379/0",
		RetryAttempts:  3,
		RetryInterval:  2 * time.Second,
		ConnectTimeout: 30 * time.Second,
		ScanBatchSize:  1000,
	}
}
