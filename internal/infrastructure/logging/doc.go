// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Logs are written to stderr by default. The MCP server and sandbox
// workers speak their protocols on stdout, so nothing else may write there.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Server starting", zap.String("addr", ":8000"))
//	logger.Component("engine").Error("Execution failed", zap.Error(err))
package logging
