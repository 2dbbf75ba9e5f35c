/*
Package monitoring provides Prometheus metrics for executions, pools,
capability calls and the HTTP API.

# Usage

	metrics := monitoring.NewMetrics()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "core", "listTables")
	// ... perform call ...
	timer.Stop("success")

Every Metrics value owns a private registry; nothing is registered with
the global default registry.
*/
package monitoring
