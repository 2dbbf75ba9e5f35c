package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		ok   bool
	}{
		{name: "select", sql: "SELECT * FROM accounts", ok: true},
		{name: "lowercase with trailing semicolon", sql: "select 1;", ok: true},
		{name: "cte", sql: "WITH t AS (SELECT 1 AS n) SELECT n FROM t", ok: true},
		{name: "values", sql: "VALUES (1), (2)", ok: true},
		{name: "leading comment", sql: "-- totals\n/* block */ SELECT 1", ok: true},
		{name: "keyword inside literal", sql: "SELECT 'DELETE FROM x; DROP TABLE y'", ok: true},
		{name: "keyword in quoted identifier", sql: `SELECT "update" FROM audit`, ok: true},
		{name: "dollar quoted", sql: "SELECT $tag$ ; INSERT $tag$", ok: true},
		{name: "placeholders", sql: "SELECT * FROM t WHERE id = $1", ok: true},
		{name: "insert", sql: "INSERT INTO t VALUES (1)"},
		{name: "delete", sql: "delete from t"},
		{name: "stacked statements", sql: "SELECT 1; DROP TABLE t"},
		{name: "writable cte", sql: "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d"},
		{name: "select into", sql: "SELECT * INTO copy FROM t"},
		{name: "pragma", sql: "PRAGMA writable_schema = 1"},
		{name: "empty", sql: "  -- nothing\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.sql)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckReadOnlyErrorKinds(t *testing.T) {
	assert.ErrorIs(t, CheckReadOnly("UPDATE t SET a = 1"), ErrNotReadOnly)
	assert.ErrorIs(t, CheckReadOnly(""), ErrInvalidParams)
}
