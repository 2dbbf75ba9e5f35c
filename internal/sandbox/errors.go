package sandbox

import "errors"

var (
	// ErrDisposed is reported by a unit used after Dispose
	ErrDisposed = errors.New("sandbox has been disposed")
	// ErrPoolExhausted is returned by Acquire when every unit is checked out
	ErrPoolExhausted = errors.New("sandbox pool exhausted")
	// ErrPoolDisposed is returned by pool operations after Dispose
	ErrPoolDisposed = errors.New("sandbox pool has been disposed")
	// ErrCapabilityNotFound rejects calls to names absent from the dispatch table
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrTimeout reports a script that outran its time limit
	ErrTimeout = errors.New("execution timeout exceeded")
	// ErrCancelled reports a script stopped by its caller's context
	ErrCancelled = errors.New("execution cancelled")
	// ErrMemoryLimit reports a script that outgrew its memory limit
	ErrMemoryLimit = errors.New("memory limit exceeded")
	// ErrAbnormalExit reports a worker that died or broke the protocol
	ErrAbnormalExit = errors.New("worker exited abnormally")
)
