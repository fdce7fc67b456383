package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tourneyd/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, time.Minute, cfg.ScanInterval())
	assert.Equal(t, 5*time.Second, cfg.DepositCooldown())
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout())
	assert.Equal(t, int32(18), cfg.Deposit.TokenDecimals)
	assert.Equal(t, "memory", cfg.Cooldown.Backend)
	assert.Equal(t, "tourneyd", cfg.Events.SubjectPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
closure:
  scan_interval_seconds: 15
  workers: 4
chain:
  networks:
    - name: eth
      rpc_url: http://localhost:8545
storage:
  dsn: ":memory:"
log:
  level: debug
`)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("TOURNEYD_JWT_SECRET", "s3cret")
	t.Setenv("TOURNEYD_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.ScanInterval())
	assert.Equal(t, 4, cfg.Closure.Workers)
	require.Len(t, cfg.Chain.Networks, 1)
	assert.Equal(t, 5.0, cfg.Chain.Networks[0].RatePerSec)
	assert.Equal(t, "warn", cfg.Log.Level, "env wins over YAML")
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, "redis", cfg.Cooldown.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "server: ["))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "cooldown:\n  backend: memcached\n"))
	assert.ErrorContains(t, err, "memory or redis")

	_, err = config.Load(writeConfig(t, "chain:\n  networks:\n    - name: eth\n      rpc_url: a\n    - name: ETH\n      rpc_url: b\n"))
	assert.ErrorContains(t, err, "duplicate network")
}
