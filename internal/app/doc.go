// Package app assembles the running service from configuration.
//
// Every entry point (HTTP server, MCP server, one-shot CLI execution) needs
// the same stack: a database connection, a capability map guarded by
// circuit breakers, and an engine with warmed pools. App builds that stack
// once and tears it down in reverse order.
//
// Example Usage:
//
//	a, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	exec, err := a.Engine.Execute(ctx, engine.Request{Code: code})
package app
