package clusterlock_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/backoff"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore records writes to the lock table.
type countingStore struct {
	*memory.Store

	acquires  atomic.Int64
	releases  atomic.Int64
	refreshes atomic.Int64
	sawTx     atomic.Bool

	// beforeRelease, when set, runs once ahead of the first combine
	// release.
	beforeRelease func()
	releaseOnce   sync.Once
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New()}
}

func (c *countingStore) AcquireLock(ctx context.Context, l *clusterlock.Lock) (bool, error) {
	c.acquires.Add(1)
	if _, ok := archivist.TxFrom(ctx); ok {
		c.sawTx.Store(true)
	}
	return c.Store.AcquireLock(ctx, l)
}

func (c *countingStore) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	c.releases.Add(1)
	return c.Store.ReleaseLock(ctx, name, owner)
}

func (c *countingStore) RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	c.refreshes.Add(1)
	return c.Store.RefreshLock(ctx, name, owner, expiresAt)
}

func (c *countingStore) ReleaseLockUnlessPending(ctx context.Context, name, owner string) (bool, bool, error) {
	if c.beforeRelease != nil {
		c.releaseOnce.Do(c.beforeRelease)
	}
	released, pending, err := c.Store.ReleaseLockUnlessPending(ctx, name, owner)
	if released {
		c.releases.Add(1)
	}
	return released, pending, err
}

// recordingEmitter counts lifecycle notifications.
type recordingEmitter struct {
	acquired      atomic.Int64
	reentrant     atomic.Int64
	contended     atomic.Int64
	reclaimed     atomic.Int64
	reclaimFailed atomic.Int64
}

func (r *recordingEmitter) EmitLockAcquired(context.Context, string)  { r.acquired.Add(1) }
func (r *recordingEmitter) EmitLockReentrant(context.Context, string) { r.reentrant.Add(1) }
func (r *recordingEmitter) EmitLockContended(context.Context, string) { r.contended.Add(1) }
func (r *recordingEmitter) EmitLockReclaimed(context.Context, string) { r.reclaimed.Add(1) }
func (r *recordingEmitter) EmitLockReclaimFailed(context.Context, string) {
	r.reclaimFailed.Add(1)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store    *countingStore
	emitter  *recordingEmitter
	service  *clusterlock.Service
	executor *clusterlock.Executor
}

func newHarness(t *testing.T, opts ...clusterlock.ExecutorOption) *harness {
	t.Helper()

	st := newCountingStore()
	em := &recordingEmitter{}
	svc := clusterlock.NewService(st,
		clusterlock.WithEmitter(em),
		clusterlock.WithHost("test-host"),
		clusterlock.WithLogger(discardLogger()),
	)

	pool := worker.NewPool(discardLogger(), worker.WithPoolSize(4))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	base := []clusterlock.ExecutorOption{
		clusterlock.WithBackoff(backoff.NewConstant(5 * time.Millisecond)),
		clusterlock.WithExecutorLogger(discardLogger()),
	}
	exec := clusterlock.NewExecutor(svc, pool, append(base, opts...)...)

	return &harness{store: st, emitter: em, service: svc, executor: exec}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
