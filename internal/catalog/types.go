package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParams     = errors.New("invalid parameters")
	ErrNotReadOnly       = errors.New("only read-only statements are allowed")
	ErrTableNotFound     = errors.New("table not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// Table is an entry returned by ListTables
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
}

// Column describes one table column
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primaryKey"`
}

// TableInfo is the result of DescribeTable
type TableInfo struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Rows is a bounded query result
type Rows struct {
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"rowCount"`
	Truncated bool                     `json:"truncated"`
}

// TableStat holds size information for one table
type TableStat struct {
	Schema    string `json:"schema"`
	Name      string `json:"name"`
	Rows      int64  `json:"rows"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Database is the read-only surface exposed to scripts
type Database interface {
	Driver() string
	ListSchemas(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, schema string) ([]Table, error)
	DescribeTable(ctx context.Context, schema, table string) (*TableInfo, error)
	Query(ctx context.Context, sql string, args []interface{}, limit int) (*Rows, error)
	Explain(ctx context.Context, sql string) ([]string, error)
	ServerVersion(ctx context.Context) (string, error)
	TableStats(ctx context.Context, schema string) ([]TableStat, error)
	Close() error
}

// Open connects to the database for driver ("postgres" or "sqlite")
func Open(ctx context.Context, driver, dsn string) (Database, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(ctx, dsn)
	case "sqlite", "sqlite3":
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// isCallerError reports errors caused by the script rather than the database
func isCallerError(err error) bool {
	return errors.Is(err, ErrInvalidParams) ||
		errors.Is(err, ErrNotReadOnly) ||
		errors.Is(err, ErrTableNotFound)
}
