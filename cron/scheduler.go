package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string)
}

type noopEmitter struct{}

func (noopEmitter) EmitCronFired(context.Context, string) {}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLocation sets the time zone schedules are evaluated in. Defaults to
// UTC so replicas in different zones agree.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithEmitter sets the receiver of CronFired events.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

type registered struct {
	entry Entry
	id    cronlib.EntryID
}

// Scheduler fires registered entries on their schedules, each firing
// running under the entry's cluster lock on the executor's pool.
type Scheduler struct {
	executor *clusterlock.Executor
	emitter  Emitter
	logger   *slog.Logger
	location *time.Location

	cron *cronlib.Cron

	mu      sync.RWMutex
	entries map[string]*registered
	ctx     context.Context
	started bool
}

// NewScheduler creates a Scheduler that runs bodies through executor.
func NewScheduler(executor *clusterlock.Executor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		executor: executor,
		emitter:  noopEmitter{},
		logger:   slog.Default(),
		location: time.UTC,
		entries:  make(map[string]*registered),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLocation(s.location),
	)
	return s
}

// Register adds an entry. Entries may be registered before or after Start.
func (s *Scheduler) Register(e Entry) error {
	e, sched, err := e.validate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("%w: %s", archivist.ErrDuplicateCron, e.Name)
	}
	name := e.Name
	r := &registered{entry: e}
	r.id = s.cron.Schedule(sched, cronlib.FuncJob(func() { s.fire(name) }))
	s.entries[name] = r

	s.logger.Debug("cron entry registered",
		slog.String("cron_name", name),
		slog.String("schedule", e.Schedule),
		slog.String("lock", e.Lock.Name),
		slog.String("lock_kind", e.Lock.Kind()),
	)
	return nil
}

// Remove unregisters an entry. A firing already running is not affected.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", archivist.ErrCronNotFound, name)
	}
	s.cron.Remove(r.id)
	delete(s.entries, name)
	return nil
}

// Entries lists registered entries ordered by name.
func (s *Scheduler) Entries() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.entries))
	for _, r := range s.entries {
		ce := s.cron.Entry(r.id)
		out = append(out, Status{
			Name:     r.entry.Name,
			Schedule: r.entry.Schedule,
			LockName: r.entry.Lock.Name,
			LockKind: r.entry.Lock.Kind(),
			Next:     ce.Next,
			Prev:     ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing entries. Cancelling ctx cancels the context of
// every body fired by the schedule; bodies stop cooperatively.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx = ctx
	s.started = true
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("entries", n),
		slog.String("location", s.location.String()),
	)
	return nil
}

// Stop stops firing entries and waits until in-flight submissions have
// been handed to the executor, or ctx is done. Bodies already on the pool
// are drained by the pool's own Stop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the named entry on the calling goroutine under its lock.
// It returns false if the lock was taken elsewhere.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	e, ok := s.lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", archivist.ErrCronNotFound, name)
	}
	return s.executor.Inline(ctx, e.Lock, s.body(e))
}

func (s *Scheduler) lookup(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[name]
	if !ok {
		return Entry{}, false
	}
	return r.entry, true
}

func (s *Scheduler) fire(name string) {
	e, ok := s.lookup(name)
	if !ok {
		return
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if err := s.executor.Execute(ctx, e.Lock, scheduled(ctx, s.body(e))); err != nil {
		s.logger.Warn("cron submit failed",
			slog.String("cron_name", name),
			slog.String("error", err.Error()),
		)
	}
}

// scheduled cancels b's context when parent is done. Bodies run on the
// pool, whose context only follows the pool's own shutdown.
func scheduled(parent context.Context, b clusterlock.Body) clusterlock.Body {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(parent, cancel)
		defer stop()
		return b(ctx)
	}
}

func (s *Scheduler) body(e Entry) clusterlock.Body {
	return func(ctx context.Context) error {
		start := time.Now()
		err := e.Run(ctx)
		s.emitter.EmitCronFired(ctx, e.Name)
		if err != nil {
			return fmt.Errorf("cron %s: %w", e.Name, err)
		}
		s.logger.Info("cron fired",
			slog.String("cron_name", e.Name),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	}
}
