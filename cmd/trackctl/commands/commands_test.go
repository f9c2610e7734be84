package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tracking-engine/internal/auth"
	"github.com/noah-isme/tracking-engine/internal/config"
	"github.com/noah-isme/tracking-engine/internal/registry"
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

func writeProviders(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providersYAML), 0o600))
	return path
}

func run(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	base := map[string]string{
		"DATABASE_URL":  "",
		"REDIS_URL":     "",
		"REGISTRY_FILE": "",
		"JWT_SECRET":    "",
		"JWT_ISSUER":    "",
		"JWT_AUDIENCE":  "",
	}
	for k, v := range env {
		base[k] = v
	}
	load := func() (*config.Config, error) { return config.LoadForTests(base) }

	var out bytes.Buffer
	root := NewRootCommand("test", load)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestTrackJSON(t *testing.T) {
	out, err := run(t, map[string]string{"REGISTRY_FILE": writeProviders(t)}, "--json", "track", "medu 790 5689")
	require.NoError(t, err)

	var body struct {
		Success        bool   `json:"success"`
		TrackingNumber string `json:"trackingNumber"`
		Provider       string `json:"provider"`
		Status         string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.True(t, body.Success)
	require.Equal(t, "MEDU7905689", body.TrackingNumber)
	require.Equal(t, "demo", body.Provider)
	require.Equal(t, "in_transit", body.Status)
}

func TestTrackBatchTable(t *testing.T) {
	out, err := run(t, map[string]string{"REGISTRY_FILE": writeProviders(t)}, "track", "MEDU7905689", "MSCU1234565")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "NUMBER"))
	require.Contains(t, lines[1], "MEDU7905689")
	require.Contains(t, lines[1], "in_transit")
	require.Contains(t, lines[2], "MSCU1234565")
}

func TestTrackWithoutProvidersFails(t *testing.T) {
	out, err := run(t, nil, "track", "MEDU7905689")
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 1")
	require.Contains(t, out, "MEDU7905689")
}

func TestProvidersList(t *testing.T) {
	out, err := run(t, map[string]string{"REGISTRY_FILE": writeProviders(t)}, "providers", "list")
	require.NoError(t, err)
	require.Contains(t, out, "demo")
	require.Contains(t, out, "static")
	require.Contains(t, out, "container")
}

func TestProvidersSeed(t *testing.T) {
	path := writeProviders(t)

	out, err := run(t, nil, "providers", "seed", path)
	require.NoError(t, err)
	require.Equal(t, "seeded 1 providers\n", out)

	_, err = run(t, map[string]string{"REGISTRY_FILE": path}, "providers", "seed", path)
	require.ErrorIs(t, err, registry.ErrReadOnly)
}

func TestProvidersHealthEmptyLog(t *testing.T) {
	out, err := run(t, nil, "--json", "providers", "health")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)

	_, err = run(t, nil, "providers", "health", "--window", "0s")
	require.Error(t, err)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	_, err := run(t, nil, "migrate", "up")
	require.ErrorIs(t, err, errNoDatabase)
	_, err = run(t, nil, "migrate", "version")
	require.ErrorIs(t, err, errNoDatabase)
}

func TestTokenRoundTrip(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	out, err := run(t, map[string]string{"JWT_SECRET": secret},
		"token", "--sub", "ops", "--org", "acme", "--role", "admin")
	require.NoError(t, err)

	p, err := auth.NewTokens(secret, "", "").Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "ops", p.Subject)
	require.Equal(t, "acme", p.OrganizationID)
	require.Equal(t, "admin", p.Role)

	_, err = run(t, nil, "token", "--sub", "ops")
	require.Error(t, err)
}
