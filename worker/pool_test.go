package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/worker"
)

func startPool(t *testing.T, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	p := worker.NewPool(slog.Default(), opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestPool_StartStop(t *testing.T) {
	p := worker.NewPool(slog.Default(), worker.WithPoolSize(2))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_RunsSubmitted(t *testing.T) {
	p := startPool(t, worker.WithPoolSize(4))

	var wg sync.WaitGroup
	var count atomic.Int32
	for range 20 {
		wg.Add(1)
		err := p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			count.Add(1)
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := count.Load(); got != 20 {
		t.Errorf("expected 20 runs, got %d", got)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := worker.NewPool(slog.Default())
	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, archivist.ErrPoolStopped) {
		t.Errorf("submit before start: expected ErrPoolStopped, got %v", err)
	}

	_ = p.Start(context.Background())
	_ = p.Stop(context.Background())

	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, archivist.ErrPoolStopped) {
		t.Errorf("submit after stop: expected ErrPoolStopped, got %v", err)
	}
}

func TestPool_AcceptedWorkRunsDespiteConcurrentStop(t *testing.T) {
	for round := range 50 {
		p := worker.NewPool(slog.Default(), worker.WithPoolSize(2), worker.WithQueueSize(4))
		_ = p.Start(context.Background())

		var accepted, ran atomic.Int32
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := p.Submit(context.Background(), func(context.Context) { ran.Add(1) })
				switch {
				case err == nil:
					accepted.Add(1)
				case !errors.Is(err, archivist.ErrPoolStopped):
					t.Errorf("submit: %v", err)
				}
			}()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
		cancel()
		wg.Wait()

		if a, r := accepted.Load(), ran.Load(); a != r {
			t.Fatalf("round %d: %d submits accepted, %d ran", round, a, r)
		}
	}
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	p := startPool(t, worker.WithPoolSize(1), worker.WithQueueSize(0))

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded while the only worker is busy, got %v", err)
	}
	close(release)
}

func TestPool_StopCancelsOnDeadline(t *testing.T) {
	p := worker.NewPool(slog.Default(), worker.WithPoolSize(1))
	_ = p.Start(context.Background())

	cancelled := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running function was not cancelled")
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	p := startPool(t, worker.WithPoolSize(1))

	_ = p.Submit(context.Background(), func(context.Context) { panic("boom") })

	done := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped processing after a panic")
	}
}
