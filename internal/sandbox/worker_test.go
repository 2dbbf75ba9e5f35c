package sandbox

import (
	"context"
	"os"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test binary doubles as the worker executable.
func TestMain(m *testing.M) {
	if IsWorkerProcess() {
		os.Exit(RunWorker(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

func newTestWorker(t *testing.T, opts Options) *Worker {
	t.Helper()
	w, err := NewWorker(opts)
	require.NoError(t, err)
	t.Cleanup(w.Dispose)
	return w
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestWorkerExecution(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})

	res := w.Execute(context.Background(), "return 2+2;", nil)
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 4, res.Result)
	assert.Greater(t, res.Metrics.WallTimeMs, 0.0)

	// A fresh process serves every call
	res = w.Execute(context.Background(), "return 'hello'.toUpperCase();", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "HELLO", res.Result)
}

func TestWorkerBindings(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})
	caps := testCapabilities()

	t.Run("round trip", func(t *testing.T) {
		res := w.Execute(context.Background(), "return await pg.core.listTables();", caps)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []interface{}{"accounts", "orders"}, res.Result)
	})

	t.Run("params cross the boundary", func(t *testing.T) {
		res := w.Execute(context.Background(), "const d = await pg.core.describeTable({ table: 'users' }); return d.table;", caps)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "users", res.Result)
	})

	t.Run("concurrent calls", func(t *testing.T) {
		res := w.Execute(context.Background(), `
			const [tables, version] = await Promise.all([pg.core.listTables(), pg.admin.serverVersion()]);
			return tables.length + ':' + version;
		`, caps)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "2:16.2", res.Result)
	})

	t.Run("host error rejects", func(t *testing.T) {
		res := w.Execute(context.Background(), "try { await pg.core.fail(); } catch (e) { return e.message; }", caps)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "boom", res.Result)
	})

	t.Run("only names present are bound", func(t *testing.T) {
		res := w.Execute(context.Background(), "return [typeof pg.core.listTables, typeof pg.core.dropTable];", caps)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []interface{}{"function", "undefined"}, res.Result)
	})
}

func TestWorkerCallCount(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})

	var calls atomic.Int32
	caps := Capabilities{"core": Group{
		"ping": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			calls.Add(1)
			return "pong", nil
		},
	}}

	res := w.Execute(context.Background(), "for (let i = 0; i < 5; i++) { await pg.core.ping(); } return 'ok';", caps)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int32(5), calls.Load())
}

func TestWorkerSecurity(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})

	for _, script := range []string{
		"return require('fs');",
		"return process.env;",
		"return eval('1');",
	} {
		res := w.Execute(context.Background(), script, nil)
		assert.False(t, res.Success, script)
	}
}

func TestWorkerErrors(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})

	res := w.Execute(context.Background(), "throw new RangeError('out of range');", nil)
	require.False(t, res.Success)
	assert.Equal(t, "RangeError: out of range", res.Error)
}

func TestWorkerConsole(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated})

	res := w.Execute(context.Background(), "console.log('from', 'worker'); return 1;", nil)
	require.True(t, res.Success, res.Error)

	logs := w.Console()
	require.Len(t, logs, 1)
	assert.Equal(t, "from worker", logs[0].Message)
}

func TestWorkerTimeout(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated, Timeout: 200 * time.Millisecond})

	start := time.Now()
	res := w.Execute(context.Background(), "while (true) {}", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWorkerHardKill(t *testing.T) {
	skipWithoutShell(t)
	w := newTestWorker(t, Options{
		Timeout:       100 * time.Millisecond,
		WorkerCommand: []string{"/bin/sh", "-c", "exec sleep 10"},
	})

	start := time.Now()
	res := w.Execute(context.Background(), "return 1;", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
	assert.Contains(t, res.Error, "killed")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWorkerAbnormalExit(t *testing.T) {
	skipWithoutShell(t)
	w := newTestWorker(t, Options{WorkerCommand: []string{"/bin/sh", "-c", "exit 3"}})

	res := w.Execute(context.Background(), "return 1;", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "exited abnormally")
}

func TestWorkerSilentExit(t *testing.T) {
	skipWithoutShell(t)
	w := newTestWorker(t, Options{WorkerCommand: []string{"/bin/sh", "-c", "exit 0"}})

	res := w.Execute(context.Background(), "return 1;", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "no result")
}

func TestWorkerOversizedOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping oversized output test")
	}
	w := newTestWorker(t, Options{Mode: ModeIsolated, Timeout: time.Second, MemoryLimitMB: 512})

	start := time.Now()
	res := w.Execute(context.Background(), `
		const big = "x".repeat(17 * 1024 * 1024);
		console.log(big);
		console.log(big);
		return 1;
	`, nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "exited abnormally")
	assert.Contains(t, res.Error, "exceeds")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWorkerGarbledOutput(t *testing.T) {
	skipWithoutShell(t)
	w := newTestWorker(t, Options{
		Timeout:       10 * time.Second,
		WorkerCommand: []string{"/bin/sh", "-c", "echo not-json; exec sleep 10"},
	})

	start := time.Now()
	res := w.Execute(context.Background(), "return 1;", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to decode message")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWorkerKilledAfterClosingStdout(t *testing.T) {
	skipWithoutShell(t)
	w := newTestWorker(t, Options{
		Timeout:       100 * time.Millisecond,
		WorkerCommand: []string{"/bin/sh", "-c", "exec >&-; exec sleep 10"},
	})

	start := time.Now()
	res := w.Execute(context.Background(), "return 1;", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWorkerCancellation(t *testing.T) {
	w := newTestWorker(t, Options{Mode: ModeIsolated, Timeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res := w.Execute(ctx, "while (true) {}", nil)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWorkerDispose(t *testing.T) {
	w, err := NewWorker(Options{Mode: ModeIsolated})
	require.NoError(t, err)

	w.Dispose()
	w.Dispose()
	assert.False(t, w.IsHealthy())

	res := w.Execute(context.Background(), "return 1;", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disposed")
	assert.Equal(t, Metrics{}, res.Metrics)
}

func TestExecuteSingleShot(t *testing.T) {
	for _, mode := range []Mode{ModeInProcess, ModeIsolated} {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Execute(context.Background(), "return await pg.admin.serverVersion();", testCapabilities(), Options{Mode: mode})
			require.NoError(t, err)
			require.True(t, res.Success, res.Error)
			assert.Equal(t, "16.2", res.Result)
		})
	}
}
