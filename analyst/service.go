package analyst

import (
	"context"
	"errors"
	"log/slog"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Emitter receives analyst notifications. ext.Registry satisfies it.
type Emitter interface {
	EmitAnalystKillFailed(ctx context.Context, endpoint string, taskID id.TaskID, err error)
}

type noopEmitter struct{}

func (noopEmitter) EmitAnalystKillFailed(context.Context, string, id.TaskID, error) {}

// TaskPinger records that a task is still alive on an analyst.
// task.Store satisfies it.
type TaskPinger interface {
	PingTask(ctx context.Context, taskID id.TaskID, endpoint string, at time.Time) error
}

// Service manages the analyst registry.
type Service struct {
	store   Store
	tasks   TaskPinger
	killer  Killer
	emitter Emitter
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithKiller sets the kill RPC client. The default is an HTTPClient.
func WithKiller(k Killer) Option {
	return func(s *Service) { s.killer = k }
}

// WithEmitter sets the notification receiver.
func WithEmitter(e Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an analyst service.
func NewService(store Store, tasks TaskPinger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tasks:   tasks,
		killer:  NewHTTPClient(),
		emitter: noopEmitter{},
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert applies a heartbeat: the analyst row is updated, or created if
// this is the first heartbeat from spec.Endpoint, and the task the
// analyst reports is pinged.
func (s *Service) Upsert(ctx context.Context, spec *Spec) (*Analyst, error) {
	now := s.now()

	updated, err := s.store.UpdateAnalyst(ctx, spec, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		a := &Analyst{
			ID:          id.NewAnalystID(),
			Endpoint:    spec.Endpoint,
			State:       StateUp,
			LockState:   Unlocked,
			TaskID:      spec.TaskID,
			Version:     spec.Version,
			TotalRAM:    spec.TotalRAM,
			FreeRAM:     spec.FreeRAM,
			FreeDisk:    spec.FreeDisk,
			Load:        spec.Load,
			TimeCreated: now,
			TimePing:    now,
		}
		err := s.store.CreateAnalyst(ctx, a)
		switch {
		case errors.Is(err, archivist.ErrAnalystExists):
			// Another replica registered it first.
			if _, err := s.store.UpdateAnalyst(ctx, spec, now); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			s.logger.Info("analyst registered", slog.String("endpoint", spec.Endpoint))
		}
	}

	if !spec.TaskID.IsNil() && s.tasks != nil {
		if err := s.tasks.PingTask(ctx, spec.TaskID, spec.Endpoint, now); err != nil {
			s.logger.Warn("task ping failed",
				slog.String("endpoint", spec.Endpoint),
				slog.String("task_id", spec.TaskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.store.GetAnalyst(ctx, spec.Endpoint)
}

// Get returns the analyst at endpoint.
func (s *Service) Get(ctx context.Context, endpoint string) (*Analyst, error) {
	return s.store.GetAnalyst(ctx, endpoint)
}

// List returns every analyst.
func (s *Service) List(ctx context.Context) ([]*Analyst, error) {
	return s.store.ListAnalysts(ctx)
}

// GetUnresponsive returns analysts in state whose heartbeat is older than
// d.
func (s *Service) GetUnresponsive(ctx context.Context, state State, d time.Duration) ([]*Analyst, error) {
	return s.store.ListUnresponsiveAnalysts(ctx, state, s.now().Add(-d))
}

// Lock puts an analyst into maintenance mode.
func (s *Service) Lock(ctx context.Context, endpoint string) error {
	return s.store.SetAnalystLockState(ctx, endpoint, Locked)
}

// Unlock takes an analyst out of maintenance mode.
func (s *Service) Unlock(ctx context.Context, endpoint string) error {
	return s.store.SetAnalystLockState(ctx, endpoint, Unlocked)
}

// SetState sets an analyst up or down.
func (s *Service) SetState(ctx context.Context, endpoint string, state State) error {
	return s.store.SetAnalystState(ctx, endpoint, state)
}

// AssignTask records that the analyst at endpoint was given taskID.
func (s *Service) AssignTask(ctx context.Context, endpoint string, taskID id.TaskID) error {
	return s.store.SetAnalystTask(ctx, endpoint, taskID)
}

// ReleaseTask clears the analyst's task if it is still taskID.
func (s *Service) ReleaseTask(ctx context.Context, endpoint string, taskID id.TaskID) (bool, error) {
	return s.store.ClearAnalystTask(ctx, endpoint, taskID)
}

// KillTask asks the analyst at endpoint to stop taskID and move it to
// newState. Failures are logged and reported as false.
func (s *Service) KillTask(ctx context.Context, endpoint string, taskID id.TaskID, reason string, newState task.State) bool {
	if endpoint == "" {
		return false
	}
	ok, err := s.killer.Kill(ctx, endpoint, taskID, KillRequest{Reason: reason, NewState: newState})
	if err != nil {
		s.logger.Warn("analyst kill failed",
			slog.String("endpoint", endpoint),
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
		s.emitter.EmitAnalystKillFailed(ctx, endpoint, taskID, err)
		return false
	}
	if !ok {
		s.logger.Info("analyst declined kill",
			slog.String("endpoint", endpoint),
			slog.String("task_id", taskID.String()),
		)
	}
	return ok
}
