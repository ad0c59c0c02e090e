package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store         = (*Store)(nil)
	_ task.Store        = (*Store)(nil)
	_ taskerror.Store   = (*Store)(nil)
	_ analyst.Store     = (*Store)(nil)
	_ clusterlock.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	tasks      map[string]*task.Task
	taskErrors map[string][]*taskerror.Entry // key: task ID
	analysts   map[string]*analyst.Analyst   // key: endpoint
	locks      map[string]*clusterlock.Lock

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used to stamp rows.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		jobs:       make(map[string]*job.Job),
		tasks:      make(map[string]*task.Task),
		taskErrors: make(map[string][]*taskerror.Entry),
		analysts:   make(map[string]*analyst.Analyst),
		locks:      make(map[string]*clusterlock.Lock),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close, InTx
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// InTx runs fn directly; the memory store has no transactions.
func (m *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
