package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const minCleanupInterval = time.Second

// PoolOption customises a pool
type PoolOption func(*poolSettings)

type poolSettings struct {
	logger  *zap.Logger
	newUnit func() (Unit, error)
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *zap.Logger) PoolOption {
	return func(s *poolSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withUnitFactory replaces unit construction
func withUnitFactory(fn func() (Unit, error)) PoolOption {
	return func(s *poolSettings) { s.newUnit = fn }
}

func applyPoolOptions(newUnit func() (Unit, error), options []PoolOption) poolSettings {
	s := poolSettings{logger: zap.NewNop(), newUnit: newUnit}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

type idleUnit struct {
	unit  Unit
	since time.Time
}

// RuntimePool reuses lightweight runtimes. Idle units are kept newest last
// and handed out newest first so the oldest ones age out.
type RuntimePool struct {
	popts    PoolOptions
	newUnit  func() (Unit, error)
	logger   *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	idle     []idleUnit
	inUse    map[Unit]struct{}
	disposed bool

	startOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewRuntimePool creates a pool of in-process runtimes
func NewRuntimePool(opts Options, popts PoolOptions, options ...PoolOption) *RuntimePool {
	opts = opts.withDefaults()
	popts = popts.withDefaults()
	s := applyPoolOptions(func() (Unit, error) { return NewRuntime(opts) }, options)

	interval := popts.IdleTimeout / 2
	if interval < minCleanupInterval {
		interval = minCleanupInterval
	}
	return &RuntimePool{
		popts:    popts,
		newUnit:  s.newUnit,
		logger:   s.logger,
		interval: interval,
		inUse:    make(map[Unit]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Initialize warms the pool up to MinInstances and starts the cleanup loop
func (p *RuntimePool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return ErrPoolDisposed
	}
	for len(p.idle)+len(p.inUse) < p.popts.MinInstances {
		if err := ctx.Err(); err != nil {
			return err
		}
		unit, err := p.newUnit()
		if err != nil {
			return fmt.Errorf("failed to create runtime: %w", err)
		}
		p.idle = append(p.idle, idleUnit{unit: unit, since: time.Now()})
	}
	p.startOnce.Do(p.startCleanup)

	p.logger.Debug("Runtime pool initialized",
		zap.Int("min", p.popts.MinInstances),
		zap.Int("max", p.popts.MaxInstances))
	return nil
}

// Acquire hands out a healthy idle runtime or creates one. It never
// blocks: at capacity it fails with ErrPoolExhausted.
func (p *RuntimePool) Acquire() (Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, ErrPoolDisposed
	}
	p.startOnce.Do(p.startCleanup)

	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !last.unit.IsHealthy() {
			last.unit.Dispose()
			continue
		}
		p.inUse[last.unit] = struct{}{}
		return last.unit, nil
	}

	if len(p.inUse) >= p.popts.MaxInstances {
		return nil, fmt.Errorf("%w: %d/%d in use", ErrPoolExhausted, len(p.inUse), p.popts.MaxInstances)
	}
	unit, err := p.newUnit()
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	p.inUse[unit] = struct{}{}
	return unit, nil
}

// Release returns unit to the pool. Units the pool does not hold as
// in use are ignored, so double release and foreign units are harmless.
func (p *RuntimePool) Release(unit Unit) {
	if unit == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[unit]; !ok {
		return
	}
	delete(p.inUse, unit)

	if p.disposed || !unit.IsHealthy() {
		unit.Dispose()
		return
	}
	unit.ClearConsole()
	p.idle = append(p.idle, idleUnit{unit: unit, since: time.Now()})
}

// Execute acquires a runtime, runs code and always releases it
func (p *RuntimePool) Execute(ctx context.Context, code string, bindings Capabilities) (*Result, error) {
	unit, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	defer p.Release(unit)
	return unit.Execute(ctx, code, bindings), nil
}

// Stats reports pool utilization. Available counts idle runtimes only,
// so Available+InUse may undershoot Max while the pool fills.
func (p *RuntimePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available: len(p.idle),
		InUse:     len(p.inUse),
		Max:       p.popts.MaxInstances,
	}
}

// Dispose stops the cleanup loop and disposes every runtime, including
// checked-out ones.
func (p *RuntimePool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	units := make([]Unit, 0, len(p.idle)+len(p.inUse))
	for _, iu := range p.idle {
		units = append(units, iu.unit)
	}
	for unit := range p.inUse {
		units = append(units, unit)
	}
	p.idle = nil
	p.inUse = make(map[Unit]struct{})
	p.mu.Unlock()

	close(p.stop)
	// Mark started so a late Acquire cannot spawn the loop.
	started := true
	p.startOnce.Do(func() { started = false })
	if started {
		<-p.done
	}

	for _, unit := range units {
		unit.Dispose()
	}
	p.logger.Debug("Runtime pool disposed", zap.Int("units", len(units)))
}

func (p *RuntimePool) startCleanup() {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case now := <-ticker.C:
				p.evict(now)
			}
		}
	}()
}

// evict drops unhealthy idle runtimes and trims runtimes idle longer than
// IdleTimeout while the pool holds more than MinInstances.
func (p *RuntimePool) evict(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}
	total := len(p.idle) + len(p.inUse)
	kept := p.idle[:0]
	evicted := 0
	for _, iu := range p.idle {
		switch {
		case !iu.unit.IsHealthy():
		case now.Sub(iu.since) > p.popts.IdleTimeout && total > p.popts.MinInstances:
		default:
			kept = append(kept, iu)
			continue
		}
		iu.unit.Dispose()
		total--
		evicted++
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = idleUnit{}
	}
	p.idle = kept

	if evicted > 0 {
		p.logger.Debug("Evicted idle runtimes", zap.Int("evicted", evicted), zap.Int("remaining", total))
	}
}
