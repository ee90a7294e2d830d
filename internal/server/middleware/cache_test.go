package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/core/respcache"
	"github.com/contentmesh/gatekeeper/internal/kv"
)

func newCacheHandler(t *testing.T, handler http.HandlerFunc) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cache, err := respcache.New(kv.NewRedisStore(client), respcache.DefaultConfig())
	require.NoError(t, err)
	return Cache(cache)(handler), mr
}

func serve(h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCacheHitMissAndInvalidate(t *testing.T) {
	var calls atomic.Int32
	handler, _ := newCacheHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":["a"]}`))
	})

	rec := serve(handler, http.MethodGet, "/api/articles?page=1", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	assert.JSONEq(t, `{"items":["a"]}`, rec.Body.String())

	rec = serve(handler, http.MethodGet, "/api/articles?page=1", nil)
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":["a"]}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())

	rec = serve(handler, http.MethodPost, "/api/articles", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(handler, http.MethodGet, "/api/articles?page=1", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCacheSkipsErrorsAndNoCache(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNotFound)
	handler, _ := newCacheHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"x"}`))
	})

	serve(handler, http.MethodGet, "/api/missing", nil)
	rec := serve(handler, http.MethodGet, "/api/missing", nil)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))

	status.Store(http.StatusOK)
	serve(handler, http.MethodGet, "/api/missing", nil)
	rec = serve(handler, http.MethodGet, "/api/missing", map[string]string{"Cache-Control": "no-cache"})
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))

	rec = serve(handler, http.MethodGet, "/api/missing", nil)
	assert.Equal(t, "HIT", rec.Header().Get(HeaderCache))
}

func TestCacheStoreDownServesFromHandler(t *testing.T) {
	handler, mr := newCacheHandler(t, okJSON)
	mr.Close()

	rec := serve(handler, http.MethodGet, "/api/articles", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(HeaderCache))

	rec = serve(handler, http.MethodDelete, "/api/articles", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
