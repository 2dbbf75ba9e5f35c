package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "inprocess", cfg.Sandbox.Mode)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PGEXEC_SANDBOX_MODE", "isolated")
	t.Setenv("PGEXEC_SANDBOX_TIMEOUT", "750ms")
	t.Setenv("PGEXEC_SANDBOX_MAX_INSTANCES", "8")
	t.Setenv("PGEXEC_SANDBOX_DENY_CAPABILITIES", "admin.*,query.run")
	t.Setenv("PGEXEC_RATE_LIMIT_ENABLED", "false")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "isolated", cfg.Sandbox.Mode)
	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, 8, cfg.Sandbox.MaxInstances)
	assert.Equal(t, []string{"admin.*", "query.run"}, cfg.Sandbox.DenyCapabilities)
	assert.False(t, cfg.RateLimit.Enabled)
	// Untouched values keep their defaults
	assert.Equal(t, sandbox.DefaultMemoryLimitMB, cfg.Sandbox.MemoryLimitMB)
}

func TestLoadFileWithEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
sandbox:
  mode: isolated
  timeout: 2s
  maxInstances: 3
  allowCapabilities:
    - core.*
database:
  driver: postgres
  dsn: postgres://localhost/app
`), 0o600))

	t.Setenv("PGEXEC_SANDBOX_MAX_INSTANCES", "6")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "isolated", cfg.Sandbox.Mode)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 6, cfg.Sandbox.MaxInstances)
	assert.Equal(t, []string{"core.*"}, cfg.Sandbox.AllowCapabilities)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/app", cfg.Database.DSN)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PGEXEC_SANDBOX_MODE", "threads")
	_, err := LoadFile("")
	assert.ErrorContains(t, err, "sandbox mode")

	t.Setenv("PGEXEC_SANDBOX_MODE", "inprocess")
	t.Setenv("PGEXEC_DATABASE_DRIVER", "oracle")
	_, err = LoadFile("")
	assert.ErrorContains(t, err, "database driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSandboxOptions(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.DenyCapabilities = []string{"admin.*"}

	opts := cfg.Sandbox.Options()
	assert.Equal(t, sandbox.ModeInProcess, opts.Mode)
	assert.False(t, opts.Policy.AllowsCapability("admin", "tableStats"))
	assert.True(t, opts.Policy.AllowsCapability("core", "listTables"))

	popts := cfg.Sandbox.PoolOptions()
	assert.Equal(t, 1, popts.MinInstances)
	assert.Equal(t, sandbox.DefaultMaxInstances, popts.MaxInstances)
}
