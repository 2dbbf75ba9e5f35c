package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/config"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func TestMain(m *testing.M) {
	if sandbox.IsWorkerProcess() {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

func seededConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO widgets (name) VALUES ('gear'), ('sprocket')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	cfg := config.Default()
	cfg.Database.DSN = path
	return cfg
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), seededConfig(t), logging.NewNop())
	require.NoError(t, err)
	defer a.Close()

	for _, mode := range []sandbox.Mode{sandbox.ModeInProcess, sandbox.ModeIsolated} {
		t.Run(string(mode), func(t *testing.T) {
			exec, err := a.Engine.Execute(context.Background(), engine.Request{
				Code: `const r = await pg.query.run({ sql: 'SELECT name FROM widgets ORDER BY id' });
				       return r.rows.map(row => row.name);`,
				Mode: mode,
			})
			require.NoError(t, err)
			require.True(t, exec.Success, exec.Error)
			assert.Equal(t, []interface{}{"gear", "sprocket"}, exec.Result.Result)
		})
	}

	assert.Contains(t, a.Engine.Capabilities(), "admin")
}

func TestNewAppliesCapabilityPolicy(t *testing.T) {
	cfg := seededConfig(t)
	cfg.Sandbox.DenyCapabilities = []string{"query.*"}

	a, err := New(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotContains(t, a.Engine.Capabilities(), "query")
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"

	_, err := New(context.Background(), cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
