package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/contentmesh/gatekeeper/internal/core/respcache"
	"github.com/contentmesh/gatekeeper/internal/metrics"
)

// HeaderCache reports whether a response was served from cache.
const HeaderCache = "X-Cache"

// maxCachedBody bounds the bytes buffered for a single response.
const maxCachedBody = 1 << 20

// ResponseCache is the subset of the response cache used by the middleware.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, r *http.Request) (*respcache.Entry, bool)
	CacheResponse(ctx context.Context, r *http.Request, status int, header http.Header, body []byte)
	InvalidateEndpoint(ctx context.Context, path string) (int64, error)
}

// captureWriter tees the response body into a bounded buffer.
type captureWriter struct {
	statusRecorder
	body     bytes.Buffer
	overflow bool
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.overflow {
		if cw.body.Len()+len(b) > maxCachedBody {
			cw.overflow = true
			cw.body.Reset()
		} else {
			cw.body.Write(b)
		}
	}
	return cw.statusRecorder.Write(b)
}

// Cache serves GET responses from the response cache and invalidates cached
// variants of a path after any write to it.
func Cache(cache ResponseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cache == nil {
				next.ServeHTTP(w, r)
				return
			}

			switch r.Method {
			case http.MethodGet:
				serveCached(cache, next, w, r)
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				next.ServeHTTP(w, r)
				_, _ = cache.InvalidateEndpoint(r.Context(), r.URL.Path)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func serveCached(cache ResponseCache, next http.Handler, w http.ResponseWriter, r *http.Request) {
	if noCache(r) {
		metrics.RecordCacheLookup("bypass")
	} else {
		if entry, ok := cache.GetCachedResponse(r.Context(), r); ok {
			for name, value := range entry.Headers {
				w.Header().Set(name, value)
			}
			if w.Header().Get("Content-Type") == "" {
				w.Header().Set("Content-Type", "application/json")
			}
			w.Header().Set(HeaderCache, "HIT")
			w.WriteHeader(entry.StatusCode)
			_, _ = w.Write(entry.Content)
			return
		}
	}

	w.Header().Set(HeaderCache, "MISS")
	cw := &captureWriter{statusRecorder: statusRecorder{ResponseWriter: w}}
	next.ServeHTTP(cw, r)

	if cw.overflow {
		return
	}
	cache.CacheResponse(r.Context(), r, cw.code(), w.Header(), cw.body.Bytes())
}

func noCache(r *http.Request) bool {
	for _, directive := range strings.Split(r.Header.Get("Cache-Control"), ",") {
		switch strings.TrimSpace(strings.ToLower(directive)) {
		case "no-cache", "no-store":
			return true
		}
	}
	return false
}
