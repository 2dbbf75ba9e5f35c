package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultSQLiteSchema = "main"

// SQLite serves the catalog from a SQLite database file
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens path with query_only set on every connection
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Shared in-memory databases vanish with their last connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLite{db: db}, nil
}

func readOnlyDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=query_only(1)&_pragma=busy_timeout(5000)"
}

// Driver returns "sqlite"
func (s *SQLite) Driver() string { return "sqlite" }

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListSchemas lists attached databases
func (s *SQLite) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_database_list ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list schemas: %w", err)
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

// ListTables lists tables and views in schema
func (s *SQLite) ListTables(ctx context.Context, schema string) ([]Table, error) {
	if schema == "" {
		schema = defaultSQLiteSchema
	}
	query := fmt.Sprintf(`
		SELECT name, type FROM %s.sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite\_%%' ESCAPE '\'
		ORDER BY name
	`, quoteIdent(schema))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []Table{}
	for rows.Next() {
		t := Table{Schema: schema}
		if err := rows.Scan(&t.Name, &t.Kind); err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DescribeTable lists the columns of schema.table
func (s *SQLite) DescribeTable(ctx context.Context, schema, table string) (*TableInfo, error) {
	if schema == "" {
		schema = defaultSQLiteSchema
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`,
		table, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			c       Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to describe table: %w", err)
		}
		c.Nullable = notNull == 0 && pk == 0
		c.PrimaryKey = pk > 0
		if dflt.Valid {
			c.Default = &dflt.String
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schema, table)
	}
	return &TableInfo{Schema: schema, Name: table, Columns: columns}, nil
}

// Query runs a read-only statement and returns at most limit rows
func (s *SQLite) Query(ctx context.Context, query string, args []interface{}, limit int) (*Rows, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	result := &Rows{Columns: columns, Rows: []map[string]interface{}{}}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, v := range values {
			row[columns[i]] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Explain returns the query plan details of query
func (s *SQLite) Explain(ctx context.Context, query string) ([]string, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query)
	if err != nil {
		return nil, fmt.Errorf("explain failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("explain failed: %w", err)
	}

	plan := []string{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("explain failed: %w", err)
		}
		// The detail column is last
		plan = append(plan, fmt.Sprint(normalizeValue(values[len(values)-1])))
	}
	return plan, rows.Err()
}

// ServerVersion returns the SQLite library version
func (s *SQLite) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return version, nil
}

// TableStats counts rows in every table of schema
func (s *SQLite) TableStats(ctx context.Context, schema string) ([]TableStat, error) {
	tables, err := s.ListTables(ctx, schema)
	if err != nil {
		return nil, err
	}

	stats := []TableStat{}
	for _, t := range tables {
		if t.Kind != "table" {
			continue
		}
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(t.Schema), quoteIdent(t.Name))
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		stats = append(stats, TableStat{Schema: t.Schema, Name: t.Name, Rows: count})
	}
	return stats, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
