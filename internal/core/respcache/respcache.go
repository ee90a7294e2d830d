// Package respcache is a read-through cache for idempotent GET responses.
//
// Entries live in the shared key-value store under
// {prefix}:{method}:{path}:{identity_hash}:{query_hash} and are never mutated.
// A write to a path removes every cached variant of that path. Store failures
// are logged and treated as misses.
package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/kv"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// ErrInvalidConfig is returned for missing prefixes or non-positive TTLs.
var ErrInvalidConfig = errors.New("respcache: invalid configuration")

// Route overrides the prefix and TTL for paths starting with Path.
type Route struct {
	Path   string        `mapstructure:"path" json:"path"`
	Prefix string        `mapstructure:"prefix" json:"prefix,omitempty"`
	TTL    time.Duration `mapstructure:"ttl" json:"ttl,omitempty"`
}

// Config is the cache section of the service configuration.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Prefix       string        `mapstructure:"prefix"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	APIKeyHeader string        `mapstructure:"api_key_header"`
	Routes       []Route       `mapstructure:"routes"`
}

// DefaultConfig caches under "api" for five minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Prefix:       "api",
		DefaultTTL:   300 * time.Second,
		APIKeyHeader: "X-API-Key",
	}
}

// Validate rejects configurations that would store entries without expiry.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("%w: prefix is required", ErrInvalidConfig)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: default_ttl must be positive", ErrInvalidConfig)
	}
	for _, route := range c.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("%w: route path %q must start with /", ErrInvalidConfig, route.Path)
		}
		if route.TTL < 0 {
			return fmt.Errorf("%w: route %s has negative ttl", ErrInvalidConfig, route.Path)
		}
	}
	return nil
}

// Entry is the stored response triple.
type Entry struct {
	Content    json.RawMessage   `json:"content"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
}

// Cache stores and replays responses.
type Cache struct {
	Store  kv.Store
	Logger *logging.Logger

	cfg    Config
	routes []Route
}

// New validates cfg and builds a cache over store.
func New(store kv.Store, cfg Config) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	routes := append([]Route(nil), cfg.Routes...)
	// Longest path first so the most specific route wins.
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Path) > len(routes[j].Path)
	})

	return &Cache{Store: store, cfg: cfg, routes: routes}, nil
}

// ResolveRoute returns the effective prefix and TTL for path.
func (c *Cache) ResolveRoute(path string) (string, time.Duration) {
	prefix, ttl := c.cfg.Prefix, c.cfg.DefaultTTL
	for _, route := range c.routes {
		if strings.HasPrefix(path, route.Path) {
			if route.Prefix != "" {
				prefix = route.Prefix
			}
			if route.TTL > 0 {
				ttl = route.TTL
			}
			break
		}
	}
	return prefix, ttl
}

// Key builds the cache key for r.
func (c *Cache) Key(r *http.Request) string {
	prefix, _ := c.ResolveRoute(r.URL.Path)
	return strings.Join([]string{
		prefix,
		r.Method,
		r.URL.Path,
		core.RequestIdentity(r, c.cfg.APIKeyHeader),
		core.QueryHash(r.URL.Query()),
	}, ":")
}

// GetCachedResponse returns the stored entry for a GET request, or false.
func (c *Cache) GetCachedResponse(ctx context.Context, r *http.Request) (*Entry, bool) {
	if r.Method != http.MethodGet {
		return nil, false
	}

	key := c.Key(r)
	raw, err := c.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			metrics.RecordCacheLookup("miss")
		} else {
			metrics.RecordCacheLookup("error")
			c.warn("Cache lookup failed", key, err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		metrics.RecordCacheLookup("error")
		c.warn("Discarding unreadable cache entry", key, err)
		return nil, false
	}

	metrics.RecordCacheLookup("hit")
	return &entry, true
}

// CacheResponse stores a GET response with status below 400 whose body is JSON.
// Anything else is ignored.
func (c *Cache) CacheResponse(ctx context.Context, r *http.Request, status int, header http.Header, body []byte) {
	if r.Method != http.MethodGet || status >= http.StatusBadRequest {
		return
	}
	if !json.Valid(body) {
		return
	}

	entry := Entry{
		Content:    json.RawMessage(body),
		StatusCode: status,
		Headers:    storableHeaders(header),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	prefix, ttl := c.ResolveRoute(r.URL.Path)
	key := c.Key(r)
	if err := c.Store.Set(ctx, key, string(data), ttl); err != nil {
		c.warn("Cache store failed", key, err)
		return
	}
	metrics.RecordCacheStore(prefix)
}

// InvalidateEndpoint removes every cached variant of path and returns the
// number of keys deleted.
func (c *Cache) InvalidateEndpoint(ctx context.Context, path string) (int64, error) {
	prefix, _ := c.ResolveRoute(path)
	pattern := fmt.Sprintf("%s:*:%s:*", prefix, escapeGlob(path))

	n, err := c.Store.DeletePattern(ctx, pattern)
	if err != nil {
		c.warn("Cache invalidation failed", pattern, err)
		return 0, fmt.Errorf("invalidate %s: %w", path, err)
	}
	metrics.RecordCacheInvalidation("endpoint", n)
	return n, nil
}

// InvalidateAll removes every entry under the configured prefixes.
func (c *Cache) InvalidateAll(ctx context.Context) (int64, error) {
	var total int64
	for _, prefix := range c.prefixes() {
		n, err := c.Store.DeletePattern(ctx, prefix+":*")
		if err != nil {
			c.warn("Cache invalidation failed", prefix+":*", err)
			return total, fmt.Errorf("invalidate all: %w", err)
		}
		total += n
	}
	metrics.RecordCacheInvalidation("all", total)
	return total, nil
}

func (c *Cache) prefixes() []string {
	seen := map[string]bool{c.cfg.Prefix: true}
	out := []string{c.cfg.Prefix}
	for _, route := range c.routes {
		if route.Prefix != "" && !seen[route.Prefix] {
			seen[route.Prefix] = true
			out = append(out, route.Prefix)
		}
	}
	return out
}

func (c *Cache) warn(msg, key string, err error) {
	if c.Logger == nil {
		return
	}
	c.Logger.Warn(msg, zap.String("key", key), zap.Error(err))
}

var skippedHeaders = map[string]bool{
	"Content-Length": true,
	"Date":           true,
	"Set-Cookie":     true,
	"X-Cache":        true,
	"X-Request-Id":   true,
}

func storableHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if skippedHeaders[canonical] || strings.HasPrefix(canonical, "X-Ratelimit-") || len(values) == 0 {
			continue
		}
		out[canonical] = values[0]
	}
	return out
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
