package clusterlock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Emitter receives lock lifecycle notifications. ext.Registry satisfies it.
type Emitter interface {
	EmitLockAcquired(ctx context.Context, name string)
	EmitLockReentrant(ctx context.Context, name string)
	EmitLockContended(ctx context.Context, name string)
	EmitLockReclaimed(ctx context.Context, name string)
	EmitLockReclaimFailed(ctx context.Context, name string)
}

type noopEmitter struct{}

func (noopEmitter) EmitLockAcquired(context.Context, string)      {}
func (noopEmitter) EmitLockReentrant(context.Context, string)     {}
func (noopEmitter) EmitLockContended(context.Context, string)     {}
func (noopEmitter) EmitLockReclaimed(context.Context, string)     {}
func (noopEmitter) EmitLockReclaimFailed(context.Context, string) {}

// Service implements lock, unlock and expiry primitives over a Store. The
// reentrancy context is the Flow attached to the caller's context.
type Service struct {
	store   Store
	emitter Emitter
	host    string
	now     func() time.Time
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEmitter sets the lifecycle hook receiver.
func WithEmitter(e Emitter) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithHost sets the host recorded on acquired rows.
func WithHost(host string) ServiceOption {
	return func(s *Service) { s.host = host }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	s := &Service{
		store:   store,
		emitter: noopEmitter{},
		host:    host,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lock tries once to acquire spec for the flow in ctx. A name the flow
// already holds is granted without touching the store.
func (s *Service) Lock(ctx context.Context, spec Spec) (Status, error) {
	_, status, err := s.acquire(ctx, spec)
	return status, err
}

func (s *Service) acquire(ctx context.Context, spec Spec) (held, Status, error) {
	flow := FlowFrom(ctx)
	if flow == nil {
		return held{}, Wait, archivist.ErrNoLockFlow
	}
	spec = spec.normalized()

	if flow.Holds(spec.Name) {
		h := held{spec: spec}
		flow.push(h)
		s.emitter.EmitLockReentrant(ctx, spec.Name)
		return h, Locked, nil
	}

	now := s.now()
	row := &Lock{
		Name:            spec.Name,
		Owner:           id.NewLockOwner(),
		Host:            s.host,
		Combine:         spec.Combine,
		HoldTillTimeout: spec.HoldTillTimeout,
		LockedAt:        now,
		ExpiresAt:       now.Add(spec.Timeout),
	}
	ok, err := s.store.AcquireLock(ctx, row)
	if err != nil {
		return held{}, Wait, fmt.Errorf("acquire lock %s: %w", spec.Name, err)
	}
	if !ok {
		s.emitter.EmitLockContended(ctx, spec.Name)
		return held{}, Wait, nil
	}

	h := held{spec: spec, owner: row.Owner, fromStore: true}
	flow.push(h)
	s.emitter.EmitLockAcquired(ctx, spec.Name)
	return h, Locked, nil
}

// Unlock pops spec from the flow in ctx. The row is deleted only when this
// was the acquisition that wrote it and spec does not hold till timeout.
// Returns whether a row was removed.
func (s *Service) Unlock(ctx context.Context, spec Spec) (bool, error) {
	flow := FlowFrom(ctx)
	if flow == nil {
		return false, archivist.ErrNoLockFlow
	}
	h, ok := flow.pop(spec.Name)
	if !ok {
		return false, nil
	}
	return s.release(ctx, h)
}

func (s *Service) release(ctx context.Context, h held) (bool, error) {
	if !h.fromStore || h.spec.HoldTillTimeout {
		return false, nil
	}
	removed, err := s.store.ReleaseLock(ctx, h.spec.Name, h.owner)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", h.spec.Name, err)
	}
	return removed, nil
}

// releaseOrContinue ends a combine hold: it deletes the row, or when a
// request arrived since the last run, clears the marker and reports
// pending so the body runs again.
func (s *Service) releaseOrContinue(ctx context.Context, h held) (bool, error) {
	_, pending, err := s.store.ReleaseLockUnlessPending(ctx, h.spec.Name, h.owner)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", h.spec.Name, err)
	}
	return pending, nil
}

// HasCombineLocks reports, and clears, whether another caller asked for
// spec while the flow in ctx held it.
func (s *Service) HasCombineLocks(ctx context.Context, spec Spec) (bool, error) {
	if !spec.Combine {
		return false, archivist.ErrNotCombineLock
	}
	flow := FlowFrom(ctx)
	if flow == nil {
		return false, archivist.ErrNoLockFlow
	}
	h, ok := flow.storeEntry(spec.Name)
	if !ok {
		return false, nil
	}
	return s.takeCombine(ctx, h)
}

func (s *Service) takeCombine(ctx context.Context, h held) (bool, error) {
	pending, err := s.store.TakeCombinePending(ctx, h.spec.Name, h.owner)
	if err != nil {
		return false, fmt.Errorf("check combine lock %s: %w", h.spec.Name, err)
	}
	return pending, nil
}

func (s *Service) refresh(ctx context.Context, h held) (bool, error) {
	ok, err := s.store.RefreshLock(ctx, h.spec.Name, h.owner, s.now().Add(h.spec.Timeout))
	if err != nil {
		return false, fmt.Errorf("refresh lock %s: %w", h.spec.Name, err)
	}
	return ok, nil
}

// IsLocked reports whether any replica holds name.
func (s *Service) IsLocked(ctx context.Context, name string) (bool, error) {
	return s.store.IsLocked(ctx, name)
}

// GetExpired lists lock rows past their expiry.
func (s *Service) GetExpired(ctx context.Context) ([]*Lock, error) {
	return s.store.ListExpiredLocks(ctx, s.now())
}

// ClearExpired reclaims an expired row after checking that its owner has
// not refreshed it since it was listed. A false return means the owner is
// still alive; the row is left alone.
func (s *Service) ClearExpired(ctx context.Context, l *Lock) (bool, error) {
	ok, err := s.store.ReclaimExpiredLock(ctx, l.Name, l.Owner, s.now())
	if err != nil {
		return false, fmt.Errorf("reclaim lock %s: %w", l.Name, err)
	}
	if !ok {
		s.logger.Warn("expired lock still held, leaving it",
			slog.String("lock", l.Name),
			slog.String("owner", l.Owner),
			slog.String("host", l.Host),
		)
		s.emitter.EmitLockReclaimFailed(ctx, l.Name)
		return false, nil
	}
	s.logger.Info("reclaimed expired lock",
		slog.String("lock", l.Name),
		slog.String("host", l.Host),
		slog.Time("expired_at", l.ExpiresAt),
	)
	s.emitter.EmitLockReclaimed(ctx, l.Name)
	return true, nil
}
