package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pgexec/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pgexec/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
	"github.com/GriffinCanCode/pgexec/internal/shared/id"
)

// MaxCodeBytes bounds the size of a submitted script
const MaxCodeBytes = 256 * 1024

var (
	ErrEmptyCode    = errors.New("code is required")
	ErrCodeTooLarge = fmt.Errorf("code exceeds %d bytes", MaxCodeBytes)
	ErrUnknownMode  = errors.New("unknown isolation mode")
	ErrClosed       = errors.New("engine is closed")
)

// Config sizes the engine
type Config struct {
	// Sandbox applies to both pools; Sandbox.Mode is the default mode.
	Sandbox sandbox.Options
	Pool    sandbox.PoolOptions
	// HistorySize is how many executions Get can still find
	HistorySize int
	// LatencyWindow is how many wall times Stats summarises
	LatencyWindow int
}

// Request is one script submission
type Request struct {
	Code string       `json:"code"`
	Mode sandbox.Mode `json:"mode,omitempty"`
}

// Execution is a finished run. Script failures are reported through
// Result.Success, never as an error from Execute.
type Execution struct {
	ID id.ExecutionID `json:"id"`
	sandbox.Result
	Mode       sandbox.Mode       `json:"mode"`
	Console    []sandbox.LogEntry `json:"console"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// Stats reports pool utilization and recent latency
type Stats struct {
	DefaultMode sandbox.Mode                   `json:"defaultMode"`
	Pools       map[sandbox.Mode]sandbox.Stats `json:"pools"`
	Executions  uint64                         `json:"executions"`
	Failures    uint64                         `json:"failures"`
	Rejections  uint64                         `json:"rejections"`
	Latency     LatencySummary                 `json:"latency"`
	Breakers    map[string]string              `json:"breakers,omitempty"`
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records into metrics instead of a private registry
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithBreakers reports the states of breakers guarding capabilities
func WithBreakers(breakers *resilience.Set) Option {
	return func(e *Engine) { e.breakers = breakers }
}

// Engine executes scripts against a fixed capability map
type Engine struct {
	defaultMode sandbox.Mode
	pools       map[sandbox.Mode]sandbox.Pool
	caps        sandbox.Capabilities
	shape       map[string][]string

	logger   *zap.Logger
	metrics  *monitoring.Metrics
	breakers *resilience.Set
	latency  *latencyWindow
	history  *history

	executions atomic.Uint64
	failures   atomic.Uint64
	rejections atomic.Uint64
	closed     atomic.Bool
}

// New creates an engine. Call Start before executing.
func New(cfg Config, caps sandbox.Capabilities, options ...Option) *Engine {
	e := &Engine{
		latency: newLatencyWindow(cfg.LatencyWindow),
		history: newHistory(cfg.HistorySize),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = monitoring.NewMetrics()
	}

	e.defaultMode = cfg.Sandbox.Mode
	if e.defaultMode == "" {
		e.defaultMode = sandbox.ModeInProcess
	}

	policy := cfg.Sandbox.Policy
	if policy == nil {
		policy = sandbox.DefaultPolicy()
	}
	e.shape = sandbox.NewDispatcher(caps, policy).Shape()
	e.caps = e.instrument(caps)

	e.pools = make(map[sandbox.Mode]sandbox.Pool, 2)
	for _, mode := range []sandbox.Mode{sandbox.ModeInProcess, sandbox.ModeIsolated} {
		opts := cfg.Sandbox
		opts.Mode = mode
		opts.Policy = policy
		e.pools[mode] = sandbox.NewPool(opts, cfg.Pool,
			sandbox.WithLogger(e.logger.With(logging.Mode(string(mode)))))
	}
	return e
}

// Start warms the pools
func (e *Engine) Start(ctx context.Context) error {
	if _, ok := e.pools[e.defaultMode]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, e.defaultMode)
	}
	for mode, pool := range e.pools {
		if err := pool.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize %s pool: %w", mode, err)
		}
		e.publishPool(mode)
	}
	e.logger.Info("Engine started",
		zap.String("default_mode", string(e.defaultMode)),
		zap.Int("capabilities", countMethods(e.shape)))
	return nil
}

// Execute runs req and returns the execution record
func (e *Engine) Execute(ctx context.Context, req Request) (*Execution, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrEmptyCode
	}
	if len(req.Code) > MaxCodeBytes {
		return nil, ErrCodeTooLarge
	}

	mode := req.Mode
	if mode == "" {
		mode = e.defaultMode
	}
	pool, ok := e.pools[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	exec := &Execution{ID: id.NewExecutionID(), Mode: mode, StartedAt: time.Now()}
	logger := e.logger.With(logging.ExecutionID(exec.ID.String()), logging.Mode(string(mode)))

	unit, err := pool.Acquire()
	if err != nil {
		e.rejections.Add(1)
		e.metrics.RecordRejection(string(mode), rejectionReason(err))
		logger.Warn("Execution rejected", zap.Error(err))
		return nil, err
	}
	e.publishPool(mode)
	defer func() {
		pool.Release(unit)
		e.publishPool(mode)
	}()

	logger.Debug("Execution started", zap.Int("code_bytes", len(req.Code)))

	res := unit.Execute(ctx, req.Code, e.caps)
	exec.Result = *res
	exec.Console = unit.Console()
	exec.FinishedAt = time.Now()

	e.executions.Add(1)
	if !res.Success {
		e.failures.Add(1)
	}
	wall := time.Duration(res.Metrics.WallTimeMs * float64(time.Millisecond))
	e.metrics.RecordExecution(string(mode), res.Success, wall, res.Metrics.MemoryUsedMB)
	e.latency.add(res.Metrics.WallTimeMs)
	e.history.add(exec)

	fields := []zap.Field{
		zap.Bool("success", res.Success),
		zap.Float64("wall_ms", res.Metrics.WallTimeMs),
		zap.Float64("cpu_ms", res.Metrics.CPUTimeMs),
		zap.Float64("memory_mb", res.Metrics.MemoryUsedMB),
		zap.Int("console_lines", len(exec.Console)),
	}
	if res.Success {
		logger.Info("Execution completed", fields...)
	} else {
		logger.Info("Execution failed", append(fields, zap.String("error", res.Error))...)
	}
	return exec, nil
}

// Get returns a recent execution by ID
func (e *Engine) Get(execID id.ExecutionID) (*Execution, bool) {
	return e.history.get(execID)
}

// Recent returns up to n recent executions, newest first
func (e *Engine) Recent(n int) []*Execution {
	return e.history.recent(n)
}

// Capabilities returns the group → method names scripts can call
func (e *Engine) Capabilities() map[string][]string {
	out := make(map[string][]string, len(e.shape))
	for g, methods := range e.shape {
		out[g] = append([]string(nil), methods...)
	}
	return out
}

// Stats reports pool utilization and recent latency
func (e *Engine) Stats() Stats {
	stats := Stats{
		DefaultMode: e.defaultMode,
		Pools:       make(map[sandbox.Mode]sandbox.Stats, len(e.pools)),
		Executions:  e.executions.Load(),
		Failures:    e.failures.Load(),
		Rejections:  e.rejections.Load(),
		Latency:     e.latency.summary(),
	}
	for mode, pool := range e.pools {
		stats.Pools[mode] = pool.Stats()
	}
	if e.breakers != nil {
		states := e.breakers.States()
		stats.Breakers = make(map[string]string, len(states))
		for name, state := range states {
			stats.Breakers[name] = state.String()
		}
	}
	return stats
}

// Metrics returns the metrics the engine records into
func (e *Engine) Metrics() *monitoring.Metrics {
	return e.metrics
}

// Close disposes both pools, killing in-flight workers
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	for _, pool := range e.pools {
		pool.Dispose()
	}
	e.logger.Info("Engine closed", zap.Uint64("executions", e.executions.Load()))
}

func (e *Engine) publishPool(mode sandbox.Mode) {
	s := e.pools[mode].Stats()
	e.metrics.SetPool(string(mode), s.InUse, s.Available)
}

// instrument times every capability call and publishes breaker states
func (e *Engine) instrument(caps sandbox.Capabilities) sandbox.Capabilities {
	out := make(sandbox.Capabilities, len(caps))
	for group, methods := range caps {
		if methods == nil {
			continue
		}
		wrapped := make(sandbox.Group, len(methods))
		for method, fn := range methods {
			if fn == nil {
				continue
			}
			g, m, call := group, method, fn
			wrapped[method] = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				timer := monitoring.NewTimer(e.metrics, g, m)
				result, err := call(ctx, params)

				status := "ok"
				if err != nil {
					status = "error"
					if errors.Is(err, resilience.ErrCircuitOpen) {
						status = "rejected"
					}
					e.logger.Debug("Capability call failed",
						logging.Capability(g, m), zap.Error(err))
				}
				timer.Stop(status)
				if e.breakers != nil {
					e.metrics.SetBreakerState(g, int(e.breakers.Get(g).State()))
				}
				return result, err
			}
		}
		out[group] = wrapped
	}
	return out
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrPoolExhausted):
		return "exhausted"
	case errors.Is(err, sandbox.ErrPoolDisposed):
		return "disposed"
	default:
		return "error"
	}
}

func countMethods(shape map[string][]string) int {
	n := 0
	for _, methods := range shape {
		n += len(methods)
	}
	return n
}
