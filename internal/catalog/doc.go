/*
Package catalog adapts a relational database into the capability map that
sandboxed scripts call.

# Drivers

Two Database implementations are provided:

  - Postgres: pgx connection pool, every session read-only
  - SQLite: modernc.org/sqlite (pure Go), connections opened with query_only

# Capabilities

Build groups database operations by category:

	core.listSchemas()
	core.listTables({ schema? })
	core.describeTable({ table, schema? })
	query.run({ sql, params?, limit? })
	query.explain({ sql })
	admin.serverVersion()
	admin.tableStats({ schema? })

Each group is guarded by its own circuit breaker, and every call runs under
the configured query timeout. Results are converted to plain JSON values so
they look the same to in-process and worker scripts.
*/
package catalog
