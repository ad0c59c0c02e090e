package clusterlock

import (
	"context"
	"sync"
)

// Future is the pending result of a Submit.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	ok    bool
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, ok bool, err error) {
	f.once.Do(func() {
		f.value, f.ok, f.err = v, ok, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done. ok is false
// when the lock was never obtained.
func (f *Future[T]) Wait(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		return f.value, f.ok, f.err
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
