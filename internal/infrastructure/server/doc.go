// Package server runs the HTTP API with graceful shutdown.
//
// The middleware chain is recovery, request ID, request logging, Prometheus
// instrumentation, CORS and (when enabled) per-IP rate limiting. Serve
// returns after ctx is cancelled and in-flight requests have drained or the
// shutdown timeout elapsed. Closing the app is left to the caller.
package server
