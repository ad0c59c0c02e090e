package store

import (
	"context"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, memory) implements all of them.
type Store interface {
	job.Store
	task.Store
	taskerror.Store
	analyst.Store
	clusterlock.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Transactor is implemented by backends that can run a function inside
// one database transaction. The transaction travels in the context
// (archivist.WithTx) and every store call made with that context joins it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InTx runs fn inside a transaction when s supports one and directly
// otherwise.
func InTx(ctx context.Context, s any, fn func(ctx context.Context) error) error {
	if tx, ok := s.(Transactor); ok {
		return tx.InTx(ctx, fn)
	}
	return fn(ctx)
}

// WithLocks returns s with its cluster lock table served by locks, for
// deployments that keep lock rows in Redis.
func WithLocks(s Store, locks clusterlock.Store) Store {
	return &splitStore{Store: s, locks: locks}
}

type splitStore struct {
	Store
	locks clusterlock.Store
}

func (s *splitStore) AcquireLock(ctx context.Context, l *clusterlock.Lock) (bool, error) {
	return s.locks.AcquireLock(ctx, l)
}

func (s *splitStore) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	return s.locks.ReleaseLock(ctx, name, owner)
}

func (s *splitStore) ReleaseLockUnlessPending(ctx context.Context, name, owner string) (bool, bool, error) {
	return s.locks.ReleaseLockUnlessPending(ctx, name, owner)
}

func (s *splitStore) IsLocked(ctx context.Context, name string) (bool, error) {
	return s.locks.IsLocked(ctx, name)
}

func (s *splitStore) TakeCombinePending(ctx context.Context, name, owner string) (bool, error) {
	return s.locks.TakeCombinePending(ctx, name, owner)
}

func (s *splitStore) RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	return s.locks.RefreshLock(ctx, name, owner, expiresAt)
}

func (s *splitStore) ListExpiredLocks(ctx context.Context, asOf time.Time) ([]*clusterlock.Lock, error) {
	return s.locks.ListExpiredLocks(ctx, asOf)
}

func (s *splitStore) ReclaimExpiredLock(ctx context.Context, name, owner string, asOf time.Time) (bool, error) {
	return s.locks.ReclaimExpiredLock(ctx, name, owner, asOf)
}

// InTx delegates to the primary store when it supports transactions.
func (s *splitStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return InTx(ctx, s.Store, fn)
}
