package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

const heapPollInterval = 25 * time.Millisecond

// Runtime wraps a goja VM with security controls. One Runtime may serve
// many executions in sequence; the VM is rebuilt after any interrupt.
type Runtime struct {
	opts Options

	mu      sync.Mutex
	vm      *goja.Runtime
	lister  goja.Callable
	tainted bool

	console *consoleBuffer

	running  atomic.Pointer[goja.Runtime]
	disposed atomic.Bool
}

// NewRuntime creates a lightweight in-process execution unit
func NewRuntime(opts Options) (*Runtime, error) {
	opts = opts.withDefaults()
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy.isBlocked(opts.BindingsRoot) || opts.BindingsRoot == "console" {
		return nil, fmt.Errorf("bindings root %q collides with a reserved global", opts.BindingsRoot)
	}

	r := &Runtime{
		opts:    opts,
		console: &consoleBuffer{},
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// reset builds a fresh hardened VM
func (r *Runtime) reset() error {
	vm := goja.New()
	lister, err := r.opts.Policy.harden(vm)
	if err != nil {
		return fmt.Errorf("failed to harden runtime: %w", err)
	}
	r.vm = vm
	r.lister = lister
	r.tainted = false
	return nil
}

// Execute runs code as the body of an async function
func (r *Runtime) Execute(ctx context.Context, code string, bindings Capabilities) *Result {
	if r.disposed.Load() {
		return disposedResult()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed.Load() {
		return disposedResult()
	}
	if r.tainted || r.vm == nil {
		if err := r.reset(); err != nil {
			return failure(err.Error(), "", Metrics{})
		}
	}
	r.console.clear()

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	vm := r.vm
	if err := r.prepare(ctx, vm, bindings); err != nil {
		r.tainted = true
		return failure(err.Error(), "", Metrics{})
	}

	prg, err := goja.Compile("sandbox.js", wrapAsync(code), false)
	if err != nil {
		return failure(fmt.Sprintf("syntax error: %v", err), "", Metrics{})
	}

	r.running.Store(vm)
	defer r.running.Store(nil)

	lease := inProcess.enter()
	defer inProcess.leave()

	s := startSample()
	stopWatchdog := context.AfterFunc(ctx, func() {
		vm.Interrupt(interruptCause(ctx))
	})
	stopGuard := watchHeap(vm, s.heap, r.opts.MemoryLimitMB, lease.exclusive)

	val, runErr := vm.RunProgram(prg)

	stopGuard()
	if !stopWatchdog() {
		// The watchdog fired, possibly after the script returned.
		r.tainted = true
	}
	vm.ClearInterrupt()
	m := s.finish()

	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			r.tainted = true
		}
		return settleError(runErr, r.opts, m)
	}
	return settleValue(val, m)
}

// prepare prunes leaked globals and installs bindings and console
func (r *Runtime) prepare(ctx context.Context, vm *goja.Runtime, bindings Capabilities) error {
	root := r.opts.BindingsRoot
	if err := r.opts.Policy.prune(vm, r.lister, root, "console"); err != nil {
		return err
	}
	obj, err := NewDispatcher(bindings, r.opts.Policy).project(ctx, vm, root)
	if err != nil {
		return err
	}
	if err := vm.Set(root, obj); err != nil {
		return fmt.Errorf("failed to install bindings: %w", err)
	}
	if err := vm.Set("console", newConsole(vm, r.console.append)); err != nil {
		return fmt.Errorf("failed to install console: %w", err)
	}
	return nil
}

// Console returns the output of the last execution
func (r *Runtime) Console() []LogEntry {
	return r.console.entries()
}

// ClearConsole drops buffered console output
func (r *Runtime) ClearConsole() {
	r.console.clear()
}

// IsHealthy reports whether the runtime accepts executions
func (r *Runtime) IsHealthy() bool {
	return !r.disposed.Load()
}

// Dispose releases the VM. A running script is interrupted.
func (r *Runtime) Dispose() {
	if r.disposed.Swap(true) {
		return
	}
	if vm := r.running.Load(); vm != nil {
		vm.Interrupt(ErrDisposed)
	}
	// Wait for an in-flight execution to unwind before dropping the VM.
	go func() {
		r.mu.Lock()
		r.vm = nil
		r.lister = nil
		r.mu.Unlock()
	}()
}

func wrapAsync(code string) string {
	return "(async function() {\n" + code + "\n})()"
}

func interruptCause(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCancelled
}

// settleError converts a run error into a failed result
func settleError(err error, opts Options, m Metrics) *Result {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(error)
		switch {
		case errors.Is(cause, ErrTimeout):
			return timeoutFailure(opts, m)
		case errors.Is(cause, ErrMemoryLimit):
			return failure(fmt.Sprintf("%v (%d MB)", ErrMemoryLimit, opts.MemoryLimitMB), "", m)
		case cause != nil:
			return failure(cause.Error(), "", m)
		}
		return failure(interrupted.Error(), "", m)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		msg, stack := describeThrown(exc.Value())
		if stack == "" {
			stack = exc.String()
		}
		return failure(msg, stack, m)
	}
	return failure(err.Error(), "", m)
}

func timeoutFailure(opts Options, m Metrics) *Result {
	return failure(fmt.Sprintf("%v after %v", ErrTimeout, opts.Timeout), "", m)
}

// settleValue resolves the promise returned by the async wrapper
func settleValue(val goja.Value, m Metrics) *Result {
	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return &Result{Success: true, Result: exportValue(val), Metrics: m}
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return &Result{Success: true, Result: exportValue(promise.Result()), Metrics: m}
	case goja.PromiseStateRejected:
		msg, stack := describeThrown(promise.Result())
		return failure(msg, stack, m)
	default:
		return failure("execution did not settle: awaited promise never resolved", "", m)
	}
}

// describeThrown extracts message and stack from a thrown JS value
func describeThrown(v goja.Value) (msg, stack string) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "uncaught exception", ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			msg = m.String()
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) && name.String() != "Error" {
				msg = name.String() + ": " + msg
			}
		}
		if s := obj.Get("stack"); s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
		if msg != "" {
			return msg, stack
		}
	}
	return v.String(), stack
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// heapTracker counts in-process executions. The heap is shared by every
// runtime in the process, so growth can only be blamed on a script that
// has had it to itself since its baseline was taken.
type heapTracker struct {
	mu     sync.Mutex
	active int
	epoch  uint64
}

var inProcess heapTracker

type heapLease struct {
	t     *heapTracker
	epoch uint64
	alone bool
}

func (t *heapTracker) enter() heapLease {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	t.epoch++
	return heapLease{t: t, epoch: t.epoch, alone: t.active == 1}
}

func (t *heapTracker) leave() {
	t.mu.Lock()
	t.active--
	t.mu.Unlock()
}

// exclusive reports whether no other execution ran since the lease began
func (l heapLease) exclusive() bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	return l.alone && l.t.epoch == l.epoch
}

// watchHeap interrupts vm once heap growth over baseline exceeds limitMB.
// A nil exclusive means the process runs a single script.
func watchHeap(vm *goja.Runtime, baseline uint64, limitMB int, exclusive func() bool) (stop func()) {
	if limitMB <= 0 {
		return func() {}
	}
	limit := uint64(limitMB) * bytesPerMB
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(heapPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if exclusive != nil && !exclusive() {
					// Another script shares the heap; the baseline no longer
					// separates its allocations from ours.
					return
				}
				if heap := heapBytes(); heap > baseline && heap-baseline > limit {
					vm.Interrupt(ErrMemoryLimit)
					return
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// consoleBuffer collects console output of one execution
type consoleBuffer struct {
	mu  sync.Mutex
	buf []LogEntry
}

func (c *consoleBuffer) append(e LogEntry) {
	c.mu.Lock()
	c.buf = append(c.buf, e)
	c.mu.Unlock()
}

func (c *consoleBuffer) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry{}, c.buf...)
}

func (c *consoleBuffer) clear() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

// newConsole builds the console object; output goes to sink
func newConsole(vm *goja.Runtime, sink func(LogEntry)) *goja.Object {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		lvl := level
		_ = console.Set(lvl, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, formatConsoleArg(arg))
			}
			sink(LogEntry{Level: lvl, Message: strings.Join(parts, " "), Time: time.Now()})
			return goja.Undefined()
		})
	}
	return console
}

func formatConsoleArg(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() != "Function" && obj.ClassName() != "Error" {
		if b, err := obj.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return v.String()
}
