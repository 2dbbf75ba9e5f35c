package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func TestMain(m *testing.M) {
	if sandbox.IsWorkerProcess() {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PGEXEC_CONFIG", "")

	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExecFromStdin(t *testing.T) {
	out, err := run(t, "return await pg.query.run({ sql: 'SELECT 1 AS one' });", "exec")
	require.NoError(t, err)

	var exec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, true, exec["success"])
	assert.Equal(t, "inprocess", exec["mode"])
	assert.Contains(t, exec["id"], "exe_")
	rows := exec["result"].(map[string]interface{})["rows"].([]interface{})
	assert.EqualValues(t, 1, rows[0].(map[string]interface{})["one"])
}

func TestExecFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(path, []byte("console.log('hi'); return 6 * 7;"), 0o600))

	out, err := run(t, "", "exec", path, "--mode", "isolated")
	require.NoError(t, err)

	var exec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.EqualValues(t, 42, exec["result"])
	assert.Equal(t, "isolated", exec["mode"])
	assert.Len(t, exec["console"], 1)
}

func TestExecScriptFailure(t *testing.T) {
	out, err := run(t, "throw new Error('nope');", "exec", "-")
	assert.ErrorIs(t, err, ErrScriptFailed)
	assert.Contains(t, out, "nope")
}

func TestExecRejectsEmptyScript(t *testing.T) {
	_, err := run(t, "", "exec")
	assert.Error(t, err)
}

func TestExecMissingFile(t *testing.T) {
	_, err := run(t, "", "exec", filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read script")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox:\n  mode: isolated\n  bindingsRoot: db\n"), 0o600))

	out, err := run(t, "return typeof db.core.listTables;", "exec", "--config", path, "--mode", "inprocess")
	require.NoError(t, err)

	var exec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &exec))
	assert.Equal(t, "inprocess", exec["mode"])
	assert.Equal(t, "function", exec["result"])
}

func TestInvalidFlags(t *testing.T) {
	_, err := run(t, "return 1;", "exec", "--mode", "container")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = run(t, "return 1;", "exec", "--driver", "oracle")
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	assert.Equal(t, "1.2.3", cmd.Version)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "mcp", "exec"}, names)
}
