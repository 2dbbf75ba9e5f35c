package catalog

import (
	"context"
	"time"

	"github.com/GriffinCanCode/pgexec/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

// Capability groups
const (
	GroupCore  = "core"
	GroupQuery = "query"
	GroupAdmin = "admin"
)

// Options controls how Build wraps database operations
type Options struct {
	// RowLimit caps rows returned by query.run
	RowLimit int
	// QueryTimeout bounds every call
	QueryTimeout time.Duration
	// Breakers holds one breaker per group; created when nil
	Breakers *resilience.Set
}

func (o Options) withDefaults() Options {
	if o.RowLimit <= 0 {
		o.RowLimit = 1000
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 30 * time.Second
	}
	if o.Breakers == nil {
		o.Breakers = resilience.NewSet(BreakerSettings(5, 30*time.Second))
	}
	return o
}

// BreakerSettings trips after threshold consecutive database failures.
// Script mistakes such as bad parameters never count as failures.
func BreakerSettings(threshold uint32, timeout time.Duration) resilience.Settings {
	if threshold == 0 {
		threshold = 5
	}
	return resilience.Settings{
		Timeout: timeout,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
	}
}

// Build exposes db as a capability map
func Build(db Database, opts Options) sandbox.Capabilities {
	opts = opts.withDefaults()
	b := &builder{db: db, opts: opts}

	return sandbox.Capabilities{
		GroupCore: {
			"listSchemas":   b.guard(GroupCore, b.listSchemas),
			"listTables":    b.guard(GroupCore, b.listTables),
			"describeTable": b.guard(GroupCore, b.describeTable),
		},
		GroupQuery: {
			"run":     b.guard(GroupQuery, b.run),
			"explain": b.guard(GroupQuery, b.explain),
		},
		GroupAdmin: {
			"serverVersion": b.guard(GroupAdmin, b.serverVersion),
			"tableStats":    b.guard(GroupAdmin, b.tableStats),
		},
	}
}

type builder struct {
	db   Database
	opts Options
}

// guard applies the query timeout and the group's breaker, then converts
// the result to plain JSON values
func (b *builder) guard(group string, fn sandbox.Method) sandbox.Method {
	breaker := b.opts.Breakers.Get(group)
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, b.opts.QueryTimeout)
		defer cancel()

		result, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return fn(ctx, params)
		})
		if err != nil {
			return nil, err
		}
		return plain(result)
	}
}

func (b *builder) listSchemas(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	return b.db.ListSchemas(ctx)
}

func (b *builder) listTables(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	schema, err := stringParam(params, "schema", false)
	if err != nil {
		return nil, err
	}
	return b.db.ListTables(ctx, schema)
}

func (b *builder) describeTable(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	table, err := stringParam(params, "table", true)
	if err != nil {
		return nil, err
	}
	schema, err := stringParam(params, "schema", false)
	if err != nil {
		return nil, err
	}
	return b.db.DescribeTable(ctx, schema, table)
}

func (b *builder) run(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sql, err := stringParam(params, "sql", true)
	if err != nil {
		return nil, err
	}
	args, err := argsParam(params, "params")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", b.opts.RowLimit)
	if err != nil {
		return nil, err
	}
	if limit > b.opts.RowLimit {
		limit = b.opts.RowLimit
	}
	return b.db.Query(ctx, sql, args, limit)
}

func (b *builder) explain(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sql, err := stringParam(params, "sql", true)
	if err != nil {
		return nil, err
	}
	return b.db.Explain(ctx, sql)
}

func (b *builder) serverVersion(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	version, err := b.db.ServerVersion(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"driver": b.db.Driver(), "version": version}, nil
}

func (b *builder) tableStats(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	schema, err := stringParam(params, "schema", false)
	if err != nil {
		return nil, err
	}
	return b.db.TableStats(ctx, schema)
}
