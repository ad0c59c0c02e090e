package clusterlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/backoff"
	"github.com/Juanbuhler/zmlp-sub000/middleware"
	"github.com/Juanbuhler/zmlp-sub000/scope"
	"github.com/Juanbuhler/zmlp-sub000/worker"
)

// Body is a unit of work run while a cluster lock is held. Its error is
// logged and otherwise ignored; it never prevents the lock from being
// released.
type Body func(ctx context.Context) error

// Executor runs bodies under cluster locks, either on the calling
// goroutine (Inline) or on a worker pool (Execute, Submit).
type Executor struct {
	service   *Service
	pool      *worker.Pool
	backoff   backoff.Strategy
	mw        middleware.Middleware
	keepAlive bool
	logger    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the delay between attempts on a contended lock.
func WithBackoff(b backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = b }
}

// WithMiddleware sets the chain wrapped around every body run.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithKeepAlive toggles refreshing the lock row while a body runs.
func WithKeepAlive(enabled bool) ExecutorOption {
	return func(e *Executor) { e.keepAlive = enabled }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an Executor. pool may be nil when only Inline is
// used.
func NewExecutor(service *Service, pool *worker.Pool, opts ...ExecutorOption) *Executor {
	e := &Executor{
		service:   service,
		pool:      pool,
		backoff:   backoff.LockRetry(),
		mw:        middleware.Chain(),
		keepAlive: true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Service returns the lock service the executor acquires through.
func (e *Executor) Service() *Service { return e.service }

// Inline runs body on the calling goroutine under spec. It returns false
// if the lock was not obtained within spec.MaxTries.
func (e *Executor) Inline(ctx context.Context, spec Spec, body Body) (bool, error) {
	_, ok, err := Inline(ctx, e, spec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return ok, err
}

// Execute runs body under spec on the worker pool without waiting for it.
// The worker sees the caller's identity and a child of the caller's flow.
func (e *Executor) Execute(ctx context.Context, spec Spec, body Body) error {
	_, err := Submit(ctx, e, spec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

// Inline runs fn on the calling goroutine under spec and returns its last
// result. ok is false if the lock was not obtained within spec.MaxTries;
// err reports store failures and cancellation while acquiring.
//
// The acquisition itself runs on a separate goroutine with any ambient
// transaction stripped from the context, so the lock row commits at once
// and other replicas see it.
func Inline[T any](ctx context.Context, e *Executor, spec Spec, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	ctx, _ = EnsureFlow(ctx)

	h, ok, err := e.obtainDetached(ctx, spec)
	if err != nil || !ok {
		return zero, false, err
	}
	return run(ctx, e, h, fn), true, nil
}

// Submit runs fn under spec on the worker pool and returns a Future for
// its result. The Future resolves with ok false if the lock could not be
// obtained within spec.MaxTries. Submit blocks while the pool queue is
// full.
func Submit[T any](ctx context.Context, e *Executor, spec Spec, fn func(context.Context) (T, error)) (*Future[T], error) {
	if e.pool == nil {
		return nil, archivist.ErrPoolStopped
	}

	identity := scope.Capture(ctx)
	spanCtx := trace.SpanContextFromContext(ctx)
	var flow *Flow
	if parent := FlowFrom(ctx); parent != nil {
		flow = parent.Child()
	} else {
		flow = NewFlow()
	}

	f := newFuture[T]()
	err := e.pool.Submit(ctx, func(base context.Context) {
		var zero T
		defer func() {
			if r := recover(); r != nil {
				f.resolve(zero, false, fmt.Errorf("clusterlock: submit %s: panic: %v", spec.Name, r))
			}
		}()

		wctx := WithFlow(scope.Restore(base, identity), flow)
		if spanCtx.IsValid() {
			wctx = trace.ContextWithRemoteSpanContext(wctx, spanCtx)
		}

		h, ok, err := e.obtainLock(wctx, spec)
		if err != nil || !ok {
			f.resolve(zero, false, err)
			return
		}
		f.resolve(run(wctx, e, h, fn), true, nil)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (e *Executor) obtainDetached(ctx context.Context, spec Spec) (held, bool, error) {
	type result struct {
		h   held
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	actx := archivist.WithoutTx(ctx)
	go func() {
		h, ok, err := e.obtainLock(actx, spec)
		ch <- result{h: h, ok: ok, err: err}
	}()
	r := <-ch
	return r.h, r.ok, r.err
}

// obtainLock calls Lock until it succeeds, sleeping a linear backoff
// between attempts, and gives up after spec.MaxTries attempts.
func (e *Executor) obtainLock(ctx context.Context, spec Spec) (held, bool, error) {
	spec = spec.normalized()
	for tries := 1; ; tries++ {
		h, status, err := e.service.acquire(ctx, spec)
		if err != nil {
			return held{}, false, err
		}
		if status == Locked {
			return h, true, nil
		}
		if spec.MaxTries > 0 && tries >= spec.MaxTries {
			e.logger.Debug("cluster lock not obtained",
				slog.String("lock", spec.Name),
				slog.String("kind", spec.Kind()),
				slog.Int("tries", tries),
			)
			return held{}, false, nil
		}
		if err := sleep(ctx, e.backoff.Delay(tries)); err != nil {
			return held{}, false, err
		}
	}
}

// run executes fn while h is held, re-running it while combine requests
// are pending, and always releases h. For combine locks the pending check
// and the release are one store operation, so a request arriving after
// the last run either sees the row gone or gets one more run.
func run[T any](ctx context.Context, e *Executor, h held, fn func(context.Context) (T, error)) T {
	flow := FlowFrom(ctx)
	rctx := archivist.WithoutTx(context.WithoutCancel(ctx))
	released := false
	defer func() {
		flow.pop(h.spec.Name)
		if released {
			return
		}
		if _, err := e.service.release(rctx, h); err != nil {
			e.logger.Error("cluster lock release failed",
				slog.String("lock", h.spec.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	if h.fromStore && e.keepAlive {
		stop := e.startKeepAlive(h)
		defer stop()
	}

	result := invoke(ctx, e, h, 1, fn)
	if !h.spec.Combine || !h.fromStore {
		return result
	}
	if !h.spec.HoldTillTimeout {
		for attempt := 2; ; attempt++ {
			pending, err := e.service.releaseOrContinue(rctx, h)
			if err != nil {
				e.logger.Error("cluster lock combine release failed",
					slog.String("lock", h.spec.Name),
					slog.String("error", err.Error()),
				)
				return result
			}
			if !pending {
				released = true
				return result
			}
			result = invoke(ctx, e, h, attempt, fn)
		}
	}
	// The row outlives the body, so a request after the last check is
	// covered by the hold until the row expires.
	for attempt := 2; ; attempt++ {
		more, err := e.service.takeCombine(ctx, h)
		if err != nil {
			e.logger.Error("cluster lock combine check failed",
				slog.String("lock", h.spec.Name),
				slog.String("error", err.Error()),
			)
			return result
		}
		if !more {
			return result
		}
		result = invoke(ctx, e, h, attempt, fn)
	}
}

func invoke[T any](ctx context.Context, e *Executor, h held, attempt int, fn func(context.Context) (T, error)) T {
	var result T
	info := middleware.Info{
		Lock:      h.spec.Name,
		Kind:      h.spec.Kind(),
		Attempt:   attempt,
		Reentrant: !h.fromStore,
	}
	err := e.call(ctx, info, func(ctx context.Context) error {
		v, err := fn(ctx)
		result = v
		return err
	})
	if err != nil {
		e.logger.Error("cluster lock body failed",
			slog.String("lock", info.Lock),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return result
}

func (e *Executor) call(ctx context.Context, info middleware.Info, next middleware.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in locked body %s: %v", info.Lock, r)
		}
	}()
	return e.mw(ctx, info, next)
}

func (e *Executor) startKeepAlive(h held) func() {
	interval := h.spec.Timeout / 2
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := e.service.refresh(ctx, h)
				switch {
				case ctx.Err() != nil:
					return
				case err != nil:
					e.logger.Warn("cluster lock refresh failed",
						slog.String("lock", h.spec.Name),
						slog.String("error", err.Error()),
					)
				case !ok:
					e.logger.Warn("cluster lock lost while body running",
						slog.String("lock", h.spec.Name),
						slog.String("owner", h.owner),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
