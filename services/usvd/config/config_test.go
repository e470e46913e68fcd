package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usvprotocol/native/cdp"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndParams(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "market.toml", "dev_mode = true\nmin_net_debt = 50000\n")
	path := writeFile(t, dir, "usvd.yaml", `
params: `+filepath.Join(dir, "market.toml")+`
storage:
  backend: LevelDB
  path: `+filepath.Join(dir, "state")+`
oracle:
  interval: 10s
  primary:
    type: http
    endpoint: http://feeds.local/primary
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Environment)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Equal(t, ":8480", cfg.Listen.HTTP)
	require.Equal(t, "file:usvd-journal.db", cfg.Journal.DSN)
	require.Equal(t, 10*time.Second, cfg.Oracle.Interval.Duration)
	require.Equal(t, OracleSourceStatic, cfg.Oracle.Secondary.Type)
	require.True(t, cfg.DevMode())
	require.Equal(t, uint64(50_000), cfg.Params.MinNetDebt)
	require.Equal(t, cdp.DefaultMCR, cfg.Params.MCR)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown field":    "listen:\n  htp: :80\n",
		"missing path":     "storage:\n  backend: bolt\n",
		"unknown backend":  "storage:\n  backend: rocks\n",
		"weak secret":      "environment: prod\nauth:\n  jwt_secret: short\n",
		"http without url": "oracle:\n  primary:\n    type: http\n",
		"bad duration":     "oracle:\n  interval: soon\n",
		"bad sample ratio": "telemetry:\n  sample_ratio: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, "cfg.yaml", body))
			require.Error(t, err)
		})
	}
}

func TestEnvOverridesSecret(t *testing.T) {
	t.Setenv(envEnvironment, "Prod")
	t.Setenv(envJWTSecret, "0123456789abcdef0123456789abcdef")
	cfg, err := Load(writeFile(t, t.TempDir(), "usvd.yaml", "auth:\n  jwt_secret: short\n"))
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
	require.Equal(t, cdp.DefaultParams(), cfg.Params)
}
