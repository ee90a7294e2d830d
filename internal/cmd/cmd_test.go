package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmesh/gatekeeper/internal/config"
	"github.com/contentmesh/gatekeeper/internal/core"
	"github.com/contentmesh/gatekeeper/internal/core/breaker"
	"github.com/contentmesh/gatekeeper/internal/core/health"
	"github.com/contentmesh/gatekeeper/internal/kv"
)

func TestIdentityFlagsResolve(t *testing.T) {
	t.Run("requires exactly one source", func(t *testing.T) {
		_, err := (&identityFlags{}).resolve()
		require.Error(t, err)

		_, err = (&identityFlags{apiKey: "k", ip: "10.0.0.1"}).resolve()
		require.Error(t, err)
	})

	t.Run("identifier is used verbatim", func(t *testing.T) {
		id, err := (&identityFlags{identifier: " abc123 "}).resolve()
		require.NoError(t, err)
		assert.Equal(t, "abc123", id)
	})

	t.Run("api key and ip are hashed like the server does", func(t *testing.T) {
		id, err := (&identityFlags{apiKey: "secret"}).resolve()
		require.NoError(t, err)
		assert.Equal(t, core.IdentityHash("secret", ""), id)

		id, err = (&identityFlags{ip: "10.0.0.1"}).resolve()
		require.NoError(t, err)
		assert.Equal(t, core.IdentityHash("", "10.0.0.1"), id)
	})
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitCode(0), ExitCodeFor(nil))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(fmt.Errorf("load: %w", config.ErrInvalid)))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(fmt.Errorf("connect: %w", kv.ErrNotReady)))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(fmt.Errorf("%w: overall health is unhealthy", errUnhealthy)))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(fmt.Errorf("boom")))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "redis://:xxxxx@localhost:6379/0", redactURL("redis://:hunter2@localhost:6379/0"))
	assert.Equal(t, "redis://localhost:6379/0", redactURL("redis://localhost:6379/0"))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")

	require.NoError(t, writeFileAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, writeFileAtomic(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files should not be left behind")
}

func TestDialStoreToleratesUnreachableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Redis.URL = "redis://" + addr + "/0"
	cfg.Redis.RetryAttempts = 1

	shared, err := dialStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shared.Close() })

	_, err = openStore(context.Background(), cfg)
	require.Error(t, err)

	cfg.Redis.URL = "http://" + addr
	_, err = dialStore(context.Background(), cfg, nil)
	require.ErrorIs(t, err, kv.ErrFailedToParseConnString)
}

func TestUpstreamBreakerSharesMonitoredService(t *testing.T) {
	healthCfg := health.DefaultConfig()
	healthCfg.Services = []health.Service{{Name: "upstream", URL: "http://127.0.0.1:1"}}
	monitor, err := health.NewMonitor(healthCfg, breaker.DefaultConfig())
	require.NoError(t, err)

	shared, ok := monitor.Breaker("upstream")
	require.True(t, ok)
	got, err := upstreamBreaker(monitor, breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Same(t, shared, got)

	own, err := upstreamBreaker(nil, breaker.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NotSame(t, shared, own)
	assert.Equal(t, "upstream", own.Name)
}
