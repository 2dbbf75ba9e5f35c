package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// killGrace is how long the host waits past the timeout before killing
// a worker that has not reported on its own.
const killGrace = 500 * time.Millisecond

const maxStderrBytes = 4 << 10

// Worker is the hard-isolated execution unit. Every Execute spawns a
// fresh worker process; only capability names cross the boundary and
// calls are forwarded back to the host by request ID.
type Worker struct {
	opts    Options
	console *consoleBuffer

	mu       sync.Mutex
	proc     atomic.Pointer[os.Process]
	disposed atomic.Bool
}

// NewWorker creates an isolated execution unit
func NewWorker(opts Options) (*Worker, error) {
	opts = opts.withDefaults()
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	return &Worker{opts: opts, console: &consoleBuffer{}}, nil
}

// settler resolves an execution exactly once from whichever terminal
// signal arrives first.
type settler struct {
	once   sync.Once
	result *Result
}

func (s *settler) settle(r *Result) {
	s.once.Do(func() { s.result = r })
}

// Execute runs code in a new worker process
func (w *Worker) Execute(ctx context.Context, code string, bindings Capabilities) *Result {
	if w.disposed.Load() {
		return disposedResult()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed.Load() {
		return disposedResult()
	}
	w.console.clear()

	dispatcher := NewDispatcher(bindings, w.opts.Policy)
	cmd, err := w.command()
	if err != nil {
		return failure(err.Error(), "", Metrics{})
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return failure(fmt.Sprintf("failed to open worker stdin: %v", err), "", Metrics{})
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure(fmt.Sprintf("failed to open worker stdout: %v", err), "", Metrics{})
	}
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return failure(fmt.Sprintf("failed to start worker: %v", err), "", Metrics{})
	}
	w.proc.Store(cmd.Process)
	defer w.proc.Store(nil)
	// Dispose may have run between the check above and Store.
	if w.disposed.Load() {
		killProcess(cmd.Process)
	}

	var s settler
	killTimer := time.AfterFunc(w.opts.Timeout+killGrace, func() {
		s.settle(failure(fmt.Sprintf("%v after %v (worker killed)", ErrTimeout, w.opts.Timeout), "", Metrics{}))
		killProcess(cmd.Process)
	})
	stopCancel := context.AfterFunc(ctx, func() {
		s.settle(failure(ErrCancelled.Error(), "", Metrics{}))
		killProcess(cmd.Process)
	})

	callCtx, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	codec := newLineCodec(stdout, stdin)
	err = codec.write(&message{
		Type:          msgStart,
		Code:          code,
		Root:          w.opts.BindingsRoot,
		Shape:         dispatcher.Shape(),
		TimeoutMs:     w.opts.Timeout.Milliseconds(),
		MemoryLimitMB: w.opts.MemoryLimitMB,
		Policy:        w.opts.Policy,
	})
	if err != nil {
		// The exit status tells the rest of the story.
		_ = stdin.Close()
	}

	var calls sync.WaitGroup
	for {
		msg, err := codec.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// The child may be blocked writing the rest of its output.
				s.settle(failure(fmt.Sprintf("%v: %v", ErrAbnormalExit, err), "", Metrics{}))
				killProcess(cmd.Process)
			}
			break
		}
		switch msg.Type {
		case msgCall:
			calls.Add(1)
			go func() {
				defer calls.Done()
				w.forward(callCtx, dispatcher, codec, msg)
			}()
		case msgConsole:
			w.console.append(LogEntry{Level: msg.Level, Message: msg.Message, Time: time.Now()})
		case msgDone:
			s.settle(&Result{Success: true, Result: msg.Result})
		case msgError:
			s.settle(failure(msg.Error, msg.Stack, Metrics{}))
		}
	}

	cancelCalls()
	calls.Wait()
	_ = stdin.Close()

	// The watchdogs stay armed until the process is reaped.
	waitErr := cmd.Wait()
	killTimer.Stop()
	stopCancel()
	if w.disposed.Load() {
		s.settle(failure(ErrDisposed.Error(), "", Metrics{}))
	}
	if waitErr != nil {
		msg := fmt.Sprintf("%v: %v", ErrAbnormalExit, waitErr)
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		s.settle(failure(msg, "", Metrics{}))
	}
	s.settle(failure(fmt.Sprintf("%v: no result reported", ErrAbnormalExit), "", Metrics{}))

	res := s.result
	cpu, rss := childUsage(cmd.ProcessState)
	res.Metrics = Metrics{
		WallTimeMs:   durationMs(time.Since(started)),
		CPUTimeMs:    durationMs(cpu),
		MemoryUsedMB: rss,
	}
	return res
}

// forward runs one capability call on behalf of the worker
func (w *Worker) forward(ctx context.Context, d *Dispatcher, codec *lineCodec, call *message) {
	reply := &message{Type: msgReply, RequestID: call.RequestID}
	result, err := d.Call(ctx, call.Group, call.Method, call.Args)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Result = result
	}
	if err := codec.write(reply); err != nil && reply.Error == "" {
		// Unencodable result: report it instead of leaving the call pending.
		_ = codec.write(&message{Type: msgReply, RequestID: call.RequestID, Error: err.Error()})
	}
}

func (w *Worker) command() (*exec.Cmd, error) {
	args := w.opts.WorkerCommand
	if len(args) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		args = []string{exe}
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = []string{WorkerEnv + "=1"}
	configureProcess(cmd)
	return cmd, nil
}

// Console returns the output of the last execution
func (w *Worker) Console() []LogEntry {
	return w.console.entries()
}

// ClearConsole drops buffered console output
func (w *Worker) ClearConsole() {
	w.console.clear()
}

// IsHealthy reports whether the worker accepts executions
func (w *Worker) IsHealthy() bool {
	return !w.disposed.Load()
}

// Dispose gates future executions and kills an in-flight worker
func (w *Worker) Dispose() {
	if w.disposed.Swap(true) {
		return
	}
	if p := w.proc.Load(); p != nil {
		killProcess(p)
	}
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
