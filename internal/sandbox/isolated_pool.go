package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool bounds concurrent isolated executions. Workers are never
// reused, so the pool only counts what is checked out.
type WorkerPool struct {
	opts    Options
	popts   PoolOptions
	newUnit func() (Unit, error)
	logger  *zap.Logger

	mu       sync.Mutex
	inUse    map[Unit]struct{}
	disposed bool
}

// NewWorkerPool creates a pool of isolated workers
func NewWorkerPool(opts Options, popts PoolOptions, options ...PoolOption) *WorkerPool {
	opts = opts.withDefaults()
	popts = popts.withDefaults()
	s := applyPoolOptions(func() (Unit, error) { return NewWorker(opts) }, options)
	return &WorkerPool{
		opts:    opts,
		popts:   popts,
		newUnit: s.newUnit,
		logger:  s.logger,
		inUse:   make(map[Unit]struct{}),
	}
}

// Initialize checks that a worker binary can be located
func (p *WorkerPool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return ErrPoolDisposed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(p.opts.WorkerCommand) > 0 {
		if _, err := exec.LookPath(p.opts.WorkerCommand[0]); err != nil {
			return fmt.Errorf("failed to locate worker command: %w", err)
		}
	} else if _, err := os.Executable(); err != nil {
		return fmt.Errorf("failed to locate worker executable: %w", err)
	}

	p.logger.Debug("Worker pool initialized", zap.Int("max", p.popts.MaxInstances))
	return nil
}

// Acquire reserves a slot and returns a fresh worker
func (p *WorkerPool) Acquire() (Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, ErrPoolDisposed
	}
	if len(p.inUse) >= p.popts.MaxInstances {
		return nil, fmt.Errorf("%w: %d/%d in use", ErrPoolExhausted, len(p.inUse), p.popts.MaxInstances)
	}
	unit, err := p.newUnit()
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	p.inUse[unit] = struct{}{}
	return unit, nil
}

// Release frees the slot held by unit and disposes it
func (p *WorkerPool) Release(unit Unit) {
	if unit == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.inUse[unit]
	delete(p.inUse, unit)
	p.mu.Unlock()

	if ok {
		unit.Dispose()
	}
}

// Execute acquires a worker, runs code and always releases it
func (p *WorkerPool) Execute(ctx context.Context, code string, bindings Capabilities) (*Result, error) {
	unit, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	defer p.Release(unit)
	return unit.Execute(ctx, code, bindings), nil
}

// Stats reports slots; Available is Max - InUse
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available: p.popts.MaxInstances - len(p.inUse),
		InUse:     len(p.inUse),
		Max:       p.popts.MaxInstances,
	}
}

// Dispose rejects further acquires and kills checked-out workers
func (p *WorkerPool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	units := make([]Unit, 0, len(p.inUse))
	for unit := range p.inUse {
		units = append(units, unit)
	}
	p.inUse = make(map[Unit]struct{})
	p.mu.Unlock()

	for _, unit := range units {
		unit.Dispose()
	}
	p.logger.Debug("Worker pool disposed", zap.Int("killed", len(units)))
}
