/*
Package http provides the gin HTTP API.

	POST /v1/execute           {code, mode?} → execution record
	GET  /v1/executions        recent executions (?limit=N)
	GET  /v1/executions/:id    one recent execution
	GET  /v1/pool              pool utilization and latency
	GET  /v1/capabilities      callable groups, methods and their parameters
	GET  /health               liveness with pool stats
	GET  /metrics              Prometheus exposition
	GET  /metrics/json         running totals

A script that throws still answers 200 with success=false. Error statuses
are reserved for requests the engine refuses: 400 for invalid input, 429
when the pool is at capacity and 503 after shutdown began.
*/
package http
