package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/config"
	"github.com/contentmesh/gatekeeper/internal/core/ratelimit"
	"github.com/contentmesh/gatekeeper/internal/core/respcache"
	"github.com/contentmesh/gatekeeper/internal/kv"
	"github.com/contentmesh/gatekeeper/internal/observability"
)

// errUnhealthy is returned by commands that found a dependency down.
var errUnhealthy = errors.New("dependency unhealthy")

// sharedStore is an open connection to the shared store.
type sharedStore struct {
	client *redis.Client
	store  *kv.RedisStore
}

func (s *sharedStore) Close() error {
	return s.client.Close()
}

// openStore connects to the shared store described by cfg and fails when it
// does not answer. Admin commands use it; serve uses dialStore.
func openStore(ctx context.Context, cfg *config.Config) (*sharedStore, error) {
	client, err := kv.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", redactURL(cfg.Redis.URL), err)
	}
	return &sharedStore{
		client: client,
		store:  kv.NewRedisStore(client, kv.WithScanBatchSize(cfg.Redis.ScanBatchSize)),
	}, nil
}

// storePingTimeout bounds the startup ping in dialStore.
const storePingTimeout = 2 * time.Second

// dialStore builds a client for the shared store without requiring it to be
// up. The request path fails open on store errors, so an unreachable store
// is logged and the client keeps redialling on use.
func dialStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sharedStore, error) {
	client, err := kv.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", redactURL(cfg.Redis.URL), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := kv.Healthcheck(client)(pingCtx); err != nil && logger != nil {
		logger.Warn("Shared store unreachable at startup, serving with fail-open limits and no cache",
			zap.String("redis", redactURL(cfg.Redis.URL)),
			zap.Error(err))
	}

	return &sharedStore{
		client: client,
		store:  kv.NewRedisStore(client, kv.WithScanBatchSize(cfg.Redis.ScanBatchSize)),
	}, nil
}

func newRateLimiter(s *sharedStore, cfg *config.Config) (*ratelimit.RateLimiter, error) {
	limiter, err := ratelimit.New(s.store, cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	limiter.Logger = observability.CLILogger
	return limiter, nil
}

func newResponseCache(s *sharedStore, cfg *config.Config) (*respcache.Cache, error) {
	cache, err := respcache.New(s.store, cfg.Cache)
	if err != nil {
		return nil, err
	}
	cache.Logger = observability.CLILogger
	return cache, nil
}

// redactURL hides any password embedded in a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
