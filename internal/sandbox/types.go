package sandbox

import (
	"context"
	"time"
)

// Mode selects the isolation boundary of an execution unit
type Mode string

const (
	// ModeInProcess runs scripts in a goja runtime inside the host process
	ModeInProcess Mode = "inprocess"
	// ModeIsolated runs every script in a freshly spawned worker process
	ModeIsolated Mode = "isolated"
)

// Default limits
const (
	DefaultTimeout       = 5 * time.Second
	DefaultMemoryLimitMB = 128
	DefaultBindingsRoot  = "pg"
	DefaultMaxInstances  = 4
	DefaultIdleTimeout   = 60 * time.Second
)

// Options configures an execution unit. Options are copied into the unit
// at construction and never change afterwards.
type Options struct {
	Mode          Mode          // Isolation mode (used by NewPool and Execute)
	Timeout       time.Duration // Wall-clock limit per execution
	MemoryLimitMB int           // Heap growth cap; in process only checked while running alone
	BindingsRoot  string        // Global name the capability map is exposed under
	Policy        *Policy       // Security policy, DefaultPolicy() when nil

	// WorkerCommand overrides the worker binary for ModeIsolated.
	// Empty means re-executing the current executable.
	WorkerCommand []string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeInProcess
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MemoryLimitMB <= 0 {
		o.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if o.BindingsRoot == "" {
		o.BindingsRoot = DefaultBindingsRoot
	}
	if o.Policy == nil {
		o.Policy = DefaultPolicy()
	}
	return o
}

// PoolOptions governs pool sizing and eviction
type PoolOptions struct {
	MinInstances int
	MaxInstances int
	IdleTimeout  time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MinInstances < 0 {
		o.MinInstances = 0
	}
	if o.MaxInstances <= 0 {
		o.MaxInstances = DefaultMaxInstances
	}
	if o.MaxInstances < o.MinInstances {
		o.MaxInstances = o.MinInstances
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// Metrics is the telemetry attached to every result. All fields are zero
// when the execution never started. For in-process units CPU and memory
// are process-wide deltas over the run; for workers they are the child's
// own rusage.
type Metrics struct {
	WallTimeMs   float64 `json:"wallTimeMs"`
	CPUTimeMs    float64 `json:"cpuTimeMs"`
	MemoryUsedMB float64 `json:"memoryUsedMb"`
}

// Result is the outcome of one execution. Failures of the executed code are
// reported here and never as a Go error.
type Result struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Stack   string      `json:"stack,omitempty"`
	Metrics Metrics     `json:"metrics"`
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Stats reports pool utilization
type Stats struct {
	Available int `json:"available"`
	InUse     int `json:"inUse"`
	Max       int `json:"max"`
}

// Unit is one execution unit ("sandbox")
type Unit interface {
	// Execute runs code as the body of an async function with bindings in scope.
	Execute(ctx context.Context, code string, bindings Capabilities) *Result
	// Console returns the output buffered by the last execution.
	Console() []LogEntry
	ClearConsole()
	IsHealthy() bool
	// Dispose is idempotent; a disposed unit never becomes healthy again.
	Dispose()
}

// Pool owns a bounded set of execution units
type Pool interface {
	Initialize(ctx context.Context) error
	Acquire() (Unit, error)
	Release(unit Unit)
	Execute(ctx context.Context, code string, bindings Capabilities) (*Result, error)
	Stats() Stats
	Dispose()
}

func failure(msg, stack string, m Metrics) *Result {
	return &Result{Success: false, Error: msg, Stack: stack, Metrics: m}
}

func disposedResult() *Result {
	return failure(ErrDisposed.Error(), "", Metrics{})
}
