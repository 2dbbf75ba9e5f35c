package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pgexec/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

func TestBuildShape(t *testing.T) {
	caps := Build(newTestDB(t), Options{})

	assert.Equal(t, map[string][]string{
		"admin": {"serverVersion", "tableStats"},
		"core":  {"describeTable", "listSchemas", "listTables"},
		"query": {"explain", "run"},
	}, sandbox.Shape(caps))
}

func TestBuildResultsArePlain(t *testing.T) {
	caps := Build(newTestDB(t), Options{})
	ctx := context.Background()

	result, err := caps["core"]["listTables"](ctx, map[string]interface{}{})
	require.NoError(t, err)
	tables, ok := result.([]interface{})
	require.True(t, ok)
	require.Len(t, tables, 3)
	assert.Equal(t, "accounts", tables[0].(map[string]interface{})["name"])

	result, err = caps["admin"]["serverVersion"](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", result.(map[string]interface{})["driver"])
}

func TestBuildQueryRun(t *testing.T) {
	caps := Build(newTestDB(t), Options{RowLimit: 2})
	run := caps["query"]["run"]
	ctx := context.Background()

	result, err := run(ctx, map[string]interface{}{
		"sql":    "SELECT email FROM accounts WHERE id = ?",
		"params": []interface{}{float64(1)},
	})
	require.NoError(t, err)
	rows := result.(map[string]interface{})
	assert.EqualValues(t, 1, rows["rowCount"])

	// Requested limits never exceed the configured cap
	result, err = run(ctx, map[string]interface{}{"sql": "SELECT id FROM accounts", "limit": int64(50)})
	require.NoError(t, err)
	rows = result.(map[string]interface{})
	assert.EqualValues(t, 2, rows["rowCount"])
	assert.Equal(t, true, rows["truncated"])
}

func TestBuildParameterValidation(t *testing.T) {
	caps := Build(newTestDB(t), Options{})
	ctx := context.Background()

	tests := []struct {
		name   string
		method sandbox.Method
		params map[string]interface{}
	}{
		{name: "missing table", method: caps["core"]["describeTable"], params: map[string]interface{}{}},
		{name: "table not a string", method: caps["core"]["describeTable"], params: map[string]interface{}{"table": 5}},
		{name: "missing sql", method: caps["query"]["run"], params: nil},
		{name: "params not an array", method: caps["query"]["run"], params: map[string]interface{}{"sql": "SELECT 1", "params": "x"}},
		{name: "fractional limit", method: caps["query"]["run"], params: map[string]interface{}{"sql": "SELECT 1", "limit": 1.5}},
		{name: "negative limit", method: caps["query"]["run"], params: map[string]interface{}{"sql": "SELECT 1", "limit": int64(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.method(ctx, tt.params)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

type failingDB struct {
	*SQLite
	calls int
}

func (f *failingDB) ServerVersion(ctx context.Context) (string, error) {
	f.calls++
	return "", errors.New("connection refused")
}

func TestBuildBreakerTripsOnDatabaseFailures(t *testing.T) {
	db := &failingDB{SQLite: newTestDB(t)}
	breakers := resilience.NewSet(BreakerSettings(2, time.Minute))
	caps := Build(db, Options{Breakers: breakers})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := caps["admin"]["serverVersion"](ctx, nil)
		assert.ErrorContains(t, err, "connection refused")
	}

	_, err := caps["admin"]["serverVersion"](ctx, nil)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, db.calls)

	// Other groups keep working
	_, err = caps["core"]["listSchemas"](ctx, nil)
	assert.NoError(t, err)
	assert.Equal(t, resilience.StateOpen, breakers.States()["admin"])
}

func TestBuildCallerErrorsDoNotTripBreaker(t *testing.T) {
	breakers := resilience.NewSet(BreakerSettings(1, time.Minute))
	caps := Build(newTestDB(t), Options{Breakers: breakers})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := caps["query"]["run"](ctx, map[string]interface{}{"sql": "DELETE FROM accounts"})
		assert.ErrorIs(t, err, ErrNotReadOnly)
	}
	assert.Equal(t, resilience.StateClosed, breakers.States()["query"])
}

func TestBuildInSandbox(t *testing.T) {
	caps := Build(newTestDB(t), Options{})

	res, err := sandbox.Execute(context.Background(), `
		const tables = await pg.core.listTables();
		const orders = await pg.query.run({ sql: 'SELECT SUM(total) AS total FROM orders' });
		return { tables: tables.map(t => t.name), total: orders.rows[0].total };
	`, caps, sandbox.Options{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	out := res.Result.(map[string]interface{})
	assert.Equal(t, []interface{}{"accounts", "big_orders", "orders"}, out["tables"])
	assert.InDelta(t, 370.49, out["total"], 0.001)
}

func TestTools(t *testing.T) {
	listed := Tools(map[string][]string{
		"query": {"run"},
		"core":  {"listTables", "custom"},
	})

	ids := make([]string, len(listed))
	for i, tool := range listed {
		ids[i] = tool.ID
	}
	assert.Equal(t, []string{"core.listTables", "core.custom", "query.run"}, ids)
	assert.Equal(t, "Run a single read-only statement", listed[2].Description)
	assert.Empty(t, listed[1].Description)
}
