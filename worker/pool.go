// Package worker provides the bounded goroutine pool that runs
// asynchronous cluster lock bodies.
package worker

import (
	"context"
	"log/slog"
	"sync"

	archivist "github.com/Juanbuhler/zmlp-sub000"
)

// Func is a unit of work. The context is the pool's base context, which
// is cancelled only when a graceful Stop runs out of time.
type Func func(ctx context.Context)

// Pool runs submitted functions on a fixed set of goroutines. Submit
// blocks while the queue is full, which pushes back on callers that
// schedule work faster than it completes.
type Pool struct {
	size      int
	queueSize int
	logger    *slog.Logger

	queue  chan Func
	base   context.Context
	cancel context.CancelFunc

	stopCh  chan struct{}
	wg      sync.WaitGroup
	submits sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of worker goroutines.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithQueueSize sets how many submitted functions may wait for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.queueSize = n
		}
	}
}

// NewPool creates a stopped pool.
func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		size:      8,
		queueSize: 64,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.queue = make(chan Func, p.queueSize)
	p.stopCh = make(chan struct{})
	p.base, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting", slog.Int("size", p.size))

	for range p.size {
		p.wg.Add(1)
		go p.loop(p.queue)
	}
	return nil
}

// Submit hands fn to a worker. It blocks until a queue slot frees up, ctx
// is done or the pool stops. A nil return means fn will run, even when
// Stop is called right after.
func (p *Pool) Submit(ctx context.Context, fn Func) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return archivist.ErrPoolStopped
	}
	p.submits.Add(1)
	queue, stopCh := p.queue, p.stopCh
	p.mu.RUnlock()
	defer p.submits.Done()

	select {
	case queue <- fn:
		return nil
	case <-stopCh:
		return archivist.ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, runs what is already queued and waits for
// the workers to finish. If ctx expires first the base context handed to
// running functions is cancelled and Stop keeps waiting for them to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	queue := p.queue
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	// Submits already past the running check either enqueue or bail out on
	// stopCh. Once they return nothing else can send, and the workers drain
	// the queue until it is closed.
	p.submits.Wait()
	close(queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running work")
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

func (p *Pool) loop(queue chan Func) {
	defer p.wg.Done()

	for fn := range queue {
		p.run(fn)
	}
}

func (p *Pool) run(fn Func) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker function panicked", slog.Any("panic", r))
		}
	}()
	fn(p.base)
}
