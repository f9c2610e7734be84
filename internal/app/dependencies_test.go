package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/cache"
	"github.com/noah-isme/tracking-engine/internal/config"
	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
	"github.com/noah-isme/tracking-engine/internal/tracking"
)

const providersYAML = `providers:
  - id: demo
    priority: 0
    types: [container]
    active: true
    adapter: static
    settings:
      status: in transit
      carrier: MSC
`

func TestBuildInMemory(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{"DATABASE_URL": "", "REDIS_URL": "", "REGISTRY_FILE": ""})
	require.NoError(t, err)

	deps, err := Build(t.Context(), cfg, zerolog.Nop(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	require.Nil(t, deps.DB)
	require.Nil(t, deps.Redis)
	require.Nil(t, deps.Tasks)
	require.IsType(t, &cache.MemoryStore{}, deps.Cache)
	require.IsType(t, &requestlog.MemorySink{}, deps.History)
	require.IsType(t, &registry.MemoryStore{}, deps.Store)
	require.Empty(t, deps.Health.Probes)

	resp := deps.Orchestrator.Resolve(t.Context(), tracking.Request{TrackingNumber: "MEDU7905689"})
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, tracking.ErrNoCandidates)
}

func TestBuildWithRedisAndProviderFile(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providersYAML), 0o600))

	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":  "",
		"REDIS_URL":     "redis://" + mr.Addr(),
		"REGISTRY_FILE": path,
	})
	require.NoError(t, err)

	deps, err := Build(t.Context(), cfg, zerolog.Nop(), Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.Tasks)
	require.NotNil(t, deps.Locker)
	require.IsType(t, &cache.RedisStore{}, deps.Cache)
	require.Nil(t, deps.Store, "file source is read-only")
	require.Contains(t, deps.Health.Probes, "redis")

	providers, err := deps.Registry.Providers(t.Context())
	require.NoError(t, err)
	require.Len(t, providers, 1)
	require.Equal(t, "demo", providers[0].ID)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{"DATABASE_URL": "", "REDIS_URL": "redis://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = Build(t.Context(), cfg, zerolog.Nop(), Options{Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
}
