/*
Package engine runs scripts for every surface of the service.

An Engine owns one pool per isolation mode, the capability map scripts may
call, and the telemetry around each execution:

  - a ULID execution ID attached to every log line
  - console output collected from the unit before it returns to its pool
  - Prometheus counters and histograms for executions, rejections and
    capability calls
  - a rolling window of wall times summarised as p50/p95 in Stats
  - a bounded history of recent executions retrievable by ID

Pools never block: when a pool is at capacity Execute returns
sandbox.ErrPoolExhausted and the caller decides whether to retry.
*/
package engine
