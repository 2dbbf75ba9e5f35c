package sandbox

import "context"

// NewPool creates the pool matching opts.Mode
func NewPool(opts Options, popts PoolOptions, options ...PoolOption) Pool {
	if opts.withDefaults().Mode == ModeIsolated {
		return NewWorkerPool(opts, popts, options...)
	}
	return NewRuntimePool(opts, popts, options...)
}

// NewUnit creates a standalone execution unit matching opts.Mode
func NewUnit(opts Options) (Unit, error) {
	if opts.withDefaults().Mode == ModeIsolated {
		return NewWorker(opts)
	}
	return NewRuntime(opts)
}

// Execute runs code once in a throwaway unit. Code-level failures are
// reported in the Result; the error covers unit construction only.
func Execute(ctx context.Context, code string, bindings Capabilities, opts Options) (*Result, error) {
	unit, err := NewUnit(opts)
	if err != nil {
		return nil, err
	}
	defer unit.Dispose()
	return unit.Execute(ctx, code, bindings), nil
}
