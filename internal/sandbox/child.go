package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/dop251/goja"
)

// WorkerEnv marks a process started as an isolated worker
const WorkerEnv = "PGEXEC_SANDBOX_WORKER"

// IsWorkerProcess reports whether the current process was spawned by a
// Worker. Binaries hosting isolated pools must check it first thing in
// main (and in TestMain) and hand control to RunWorker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// RunWorker serves exactly one execution over in/out and returns the
// process exit code. Script failures are reported over the protocol and
// still exit 0; a non-zero code means the protocol itself broke.
func RunWorker(in io.Reader, out io.Writer) int {
	codec := newLineCodec(in, out)
	start, err := codec.read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return 2
	}
	if start.Type != msgStart {
		fmt.Fprintf(os.Stderr, "worker: expected %s message, got %q\n", msgStart, start.Type)
		return 2
	}

	c, err := newChild(codec, start)
	if err != nil {
		_ = codec.write(&message{Type: msgError, Error: err.Error()})
		return 0
	}

	res := c.run()
	reply := &message{Type: msgDone, Result: res.Result}
	if !res.Success {
		reply = &message{Type: msgError, Error: res.Error, Stack: res.Stack}
	}
	if err := codec.write(reply); err != nil {
		// Results that cannot be encoded are reported as failures.
		if err := codec.write(&message{Type: msgError, Error: err.Error()}); err != nil {
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
			return 2
		}
	}
	return 0
}

type pendingCall struct {
	resolve func(interface{}) error
	reject  func(interface{}) error
}

// child runs one script and forwards capability calls to the host
type child struct {
	codec   *lineCodec
	opts    Options
	code    string
	shape   map[string][]string
	vm      *goja.Runtime
	pending map[uint64]pendingCall
	nextID  uint64
	replies chan *message
}

func newChild(codec *lineCodec, start *message) (*child, error) {
	opts := Options{
		Timeout:       time.Duration(start.TimeoutMs) * time.Millisecond,
		MemoryLimitMB: start.MemoryLimitMB,
		BindingsRoot:  start.Root,
		Policy:        start.Policy,
	}.withDefaults()

	if err := applyLimits(opts.Timeout); err != nil {
		return nil, fmt.Errorf("failed to apply resource limits: %w", err)
	}
	// Soft limit: leave room for the runtime above the script's allowance.
	debug.SetMemoryLimit(int64(opts.MemoryLimitMB+64) * bytesPerMB)

	c := &child{
		codec:   codec,
		opts:    opts,
		code:    start.Code,
		shape:   start.Shape,
		vm:      goja.New(),
		pending: make(map[uint64]pendingCall),
		replies: make(chan *message, 16),
	}
	lister, err := opts.Policy.harden(c.vm)
	if err != nil {
		return nil, fmt.Errorf("failed to harden runtime: %w", err)
	}
	if err := opts.Policy.prune(c.vm, lister, opts.BindingsRoot, "console"); err != nil {
		return nil, err
	}
	if err := c.vm.Set(opts.BindingsRoot, c.bindings()); err != nil {
		return nil, fmt.Errorf("failed to install bindings: %w", err)
	}
	console := newConsole(c.vm, func(e LogEntry) {
		_ = codec.write(&message{Type: msgConsole, Level: e.Level, Message: e.Message})
	})
	if err := c.vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("failed to install console: %w", err)
	}
	return c, nil
}

// bindings mirrors the shape as functions that forward to the host
func (c *child) bindings() *goja.Object {
	root := c.vm.NewObject()
	for group, methods := range c.shape {
		groupObj := c.vm.NewObject()
		for _, method := range methods {
			g, m := group, method
			_ = groupObj.Set(m, func(call goja.FunctionCall) goja.Value {
				return c.forward(g, m, call.Argument(0))
			})
		}
		_ = root.Set(group, groupObj)
	}
	return root
}

func (c *child) forward(group, method string, arg goja.Value) goja.Value {
	promise, resolve, reject := c.vm.NewPromise()
	params, err := exportParams(arg)
	if err != nil {
		reject(c.vm.NewTypeError(fmt.Sprintf("%s.%s.%s: %v", c.opts.BindingsRoot, group, method, err)))
		return c.vm.ToValue(promise)
	}

	c.nextID++
	id := c.nextID
	call := &message{Type: msgCall, RequestID: id, Group: group, Method: method, Args: params}
	if err := c.codec.write(call); err != nil {
		reject(c.vm.NewGoError(err))
		return c.vm.ToValue(promise)
	}
	c.pending[id] = pendingCall{resolve: resolve, reject: reject}
	return c.vm.ToValue(promise)
}

// run evaluates the script, then pumps host replies into pending promises
// until the outer promise settles or the deadline passes.
func (c *child) run() *Result {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	prg, err := goja.Compile("sandbox.js", wrapAsync(c.code), false)
	if err != nil {
		return failure(fmt.Sprintf("syntax error: %v", err), "", Metrics{})
	}

	go c.readReplies()

	s := startSample()
	stopWatchdog := context.AfterFunc(ctx, func() { c.vm.Interrupt(ErrTimeout) })
	defer stopWatchdog()
	stopGuard := watchHeap(c.vm, s.heap, c.opts.MemoryLimitMB, nil)
	defer stopGuard()

	val, err := c.vm.RunProgram(prg)
	if err != nil {
		return settleError(err, c.opts, Metrics{})
	}
	promise, ok := val.Export().(*goja.Promise)
	if !ok {
		return settleValue(val, Metrics{})
	}

	for promise.State() == goja.PromiseStatePending {
		if len(c.pending) == 0 {
			return settleValue(val, Metrics{})
		}
		select {
		case <-ctx.Done():
			return timeoutFailure(c.opts, Metrics{})
		case msg, ok := <-c.replies:
			if !ok {
				return failure("host closed the connection", "", Metrics{})
			}
			if err := c.deliver(msg); err != nil {
				return settleError(err, c.opts, Metrics{})
			}
		}
	}
	return settleValue(val, Metrics{})
}

// deliver settles the promise waiting on msg. Settling runs queued
// continuations, which may issue further calls.
func (c *child) deliver(msg *message) error {
	if msg.Type != msgReply {
		return nil
	}
	p, ok := c.pending[msg.RequestID]
	if !ok {
		return nil
	}
	delete(c.pending, msg.RequestID)
	if msg.Error != "" {
		return p.reject(c.vm.NewGoError(errors.New(msg.Error)))
	}
	return p.resolve(msg.Result)
}

func (c *child) readReplies() {
	defer close(c.replies)
	for {
		msg, err := c.codec.read()
		if err != nil {
			return
		}
		c.replies <- msg
	}
}
