package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresSchema = "public"

// Postgres serves the catalog from a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn. Every session defaults to read-only
// transactions and queries additionally run inside an explicit read-only
// transaction that is always rolled back.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.ConnConfig.RuntimeParams["application_name"] = "pgexec"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Driver returns "postgres"
func (p *Postgres) Driver() string { return "postgres" }

// Close closes the connection pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// ListSchemas lists user-visible schemas
func (p *Postgres) ListSchemas(ctx context.Context) ([]string, error) {
	query := `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		  AND schema_name NOT LIKE 'pg\_toast%'
		  AND schema_name NOT LIKE 'pg\_temp%'
		ORDER BY schema_name
	`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListTables lists tables and views in schema
func (p *Postgres) ListTables(ctx context.Context, schema string) ([]Table, error) {
	if schema == "" {
		schema = defaultPostgresSchema
	}
	query := `
		SELECT table_schema, table_name,
		       CASE table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name
	`
	rows, err := p.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Table, error) {
		var t Table
		err := row.Scan(&t.Schema, &t.Name, &t.Kind)
		return t, err
	})
}

// DescribeTable lists the columns of schema.table in ordinal order
func (p *Postgres) DescribeTable(ctx context.Context, schema, table string) (*TableInfo, error) {
	if schema == "" {
		schema = defaultPostgresSchema
	}
	query := `
		SELECT c.column_name, c.data_type, c.is_nullable = 'YES', c.column_default,
		       EXISTS (
		           SELECT 1
		           FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage k
		             ON k.constraint_name = tc.constraint_name
		            AND k.table_schema = tc.table_schema
		            AND k.table_name = tc.table_name
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND k.column_name = c.column_name
		       )
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`
	rows, err := p.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var c Column
		err := row.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default, &c.PrimaryKey)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schema, table)
	}
	return &TableInfo{Schema: schema, Name: table, Columns: columns}, nil
}

// Query runs a read-only statement and returns at most limit rows
func (p *Postgres) Query(ctx context.Context, sql string, args []interface{}, limit int) (*Rows, error) {
	if err := CheckReadOnly(sql); err != nil {
		return nil, err
	}

	var result *Rows
	err := p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		columns := make([]string, len(fields))
		for i, f := range fields {
			columns[i] = f.Name
		}

		result = &Rows{Columns: columns, Rows: []map[string]interface{}{}}
		for rows.Next() {
			if limit > 0 && len(result.Rows) >= limit {
				result.Truncated = true
				break
			}
			values, err := rows.Values()
			if err != nil {
				return err
			}
			row := make(map[string]interface{}, len(columns))
			for i, v := range values {
				row[columns[i]] = normalizeValue(v)
			}
			result.Rows = append(result.Rows, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Explain returns the text plan of sql without running it
func (p *Postgres) Explain(ctx context.Context, sql string) ([]string, error) {
	if err := CheckReadOnly(sql); err != nil {
		return nil, err
	}

	var plan []string
	err := p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, "EXPLAIN "+sql)
		if err != nil {
			return err
		}
		plan, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("explain failed: %w", err)
	}
	return plan, nil
}

// ServerVersion returns the server_version setting
func (p *Postgres) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := p.pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	return version, nil
}

// TableStats reports live row estimates and on-disk size per table
func (p *Postgres) TableStats(ctx context.Context, schema string) ([]TableStat, error) {
	if schema == "" {
		schema = defaultPostgresSchema
	}
	query := `
		SELECT schemaname, relname, n_live_tup, pg_total_relation_size(relid)
		FROM pg_stat_user_tables
		WHERE schemaname = $1
		ORDER BY relname
	`
	rows, err := p.pool.Query(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read table stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TableStat, error) {
		var s TableStat
		err := row.Scan(&s.Schema, &s.Name, &s.Rows, &s.SizeBytes)
		return s, err
	})
}

// readOnly runs fn in a read-only transaction that is never committed
func (p *Postgres) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	return fn(tx)
}
