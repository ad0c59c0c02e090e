package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/event"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/store"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// Emitter receives dispatch lifecycle notifications. ext.Registry
// satisfies it.
type Emitter interface {
	EmitTaskQueued(ctx context.Context, t *task.DispatchTask, endpoint string)
	EmitTaskStarted(ctx context.Context, t *task.Task)
	EmitTaskStopped(ctx context.Context, t *task.Task, state task.State, exitStatus int)
	EmitTaskExpanded(ctx context.Context, parent, child *task.Task)
	EmitJobCancelled(ctx context.Context, j *job.Job, killed int)
}

type noopEmitter struct{}

func (noopEmitter) EmitTaskQueued(context.Context, *task.DispatchTask, string)     {}
func (noopEmitter) EmitTaskStarted(context.Context, *task.Task)                    {}
func (noopEmitter) EmitTaskStopped(context.Context, *task.Task, task.State, int)   {}
func (noopEmitter) EmitTaskExpanded(context.Context, *task.Task, *task.Task)       {}
func (noopEmitter) EmitJobCancelled(context.Context, *job.Job, int)                {}

// Fleet is the view of the analyst registry the dispatcher needs.
// analyst.Service satisfies it.
type Fleet interface {
	Get(ctx context.Context, endpoint string) (*analyst.Analyst, error)
	AssignTask(ctx context.Context, endpoint string, taskID id.TaskID) error
	ReleaseTask(ctx context.Context, endpoint string, taskID id.TaskID) (bool, error)
	SetState(ctx context.Context, endpoint string, state analyst.State) error
	GetUnresponsive(ctx context.Context, state analyst.State, d time.Duration) ([]*analyst.Analyst, error)
	KillTask(ctx context.Context, endpoint string, taskID id.TaskID, reason string, newState task.State) bool
}

// noExitStatus is reported to hooks for transitions without an exit.
const noExitStatus = -1

// Service is the task scheduler.
type Service struct {
	tasks   task.Store
	jobs    job.Store
	fleet   Fleet
	errors  *taskerror.Service
	emitter Emitter

	defaultMaxRetries int
	killConcurrency   int
	now               func() time.Time
	logger            *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEmitter sets the lifecycle hook receiver.
func WithEmitter(e Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithDefaultMaxRetries sets the retry budget of submitted jobs that
// carry none.
func WithDefaultMaxRetries(n int) Option {
	return func(s *Service) { s.defaultMaxRetries = n }
}

// WithKillConcurrency bounds the kill requests a job cancellation sends
// in parallel.
func WithKillConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.killConcurrency = n
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

// NewService creates a dispatcher over the given stores.
func NewService(tasks task.Store, jobs job.Store, fleet Fleet, errs *taskerror.Service, opts ...Option) *Service {
	s := &Service{
		tasks:             tasks,
		jobs:              jobs,
		fleet:             fleet,
		errors:            errs,
		emitter:           noopEmitter{},
		defaultMaxRetries: 3,
		killConcurrency:   8,
		now:               func() time.Time { return time.Now().UTC() },
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetWaitingTasks returns up to limit waiting tasks, lowest job priority
// first, then oldest.
func (s *Service) GetWaitingTasks(ctx context.Context, limit int) ([]*task.DispatchTask, error) {
	return s.tasks.GetWaitingTasks(ctx, limit)
}

// QueueTask claims t for the analyst at endpoint. It returns false when
// the task is no longer waiting, which is how racing replicas lose.
// On success t reflects the queued state.
func (s *Service) QueueTask(ctx context.Context, t *task.Task, endpoint string) (bool, error) {
	ok, err := s.tasks.SetState(ctx, t.ID, task.StateQueued, task.StateWaiting)
	if err != nil || !ok {
		return false, err
	}

	if err := s.tasks.SetHostEndpoint(ctx, t.ID, endpoint); err != nil {
		s.unqueue(ctx, t.ID, "")
		return false, err
	}
	if err := s.fleet.AssignTask(ctx, endpoint, t.ID); err != nil {
		s.unqueue(ctx, t.ID, "")
		return false, err
	}

	t.State = task.StateQueued
	t.HostEndpoint = endpoint
	s.logger.Debug("task queued",
		slog.String("task_id", t.ID.String()),
		slog.String("endpoint", endpoint),
	)
	return true, nil
}

// unqueue puts a task claimed by this replica back to Waiting. It is the
// cleanup path of a failed claim, so failures are only logged.
func (s *Service) unqueue(ctx context.Context, taskID id.TaskID, endpoint string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.tasks.SetState(ctx, taskID, task.StateWaiting, task.StateQueued); err != nil {
		s.logger.Error("failed to return task to waiting",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
	if endpoint != "" {
		s.release(ctx, endpoint, taskID)
	}
}

// StartTask moves a queued task to Running and records the job's start.
func (s *Service) StartTask(ctx context.Context, t *task.Task) (bool, error) {
	ok, err := s.tasks.SetState(ctx, t.ID, task.StateRunning, task.StateQueued)
	if err != nil || !ok {
		return false, err
	}
	if err := s.jobs.MarkJobStarted(ctx, t.JobID, s.now()); err != nil {
		return true, err
	}

	t.State = task.StateRunning
	s.logger.Debug("task started", slog.String("task_id", t.ID.String()))
	s.emitter.EmitTaskStarted(ctx, t)
	return true, nil
}

// stopState resolves the state a stopped task moves to.
func stopState(t *task.Task, ev *event.StoppedEvent) task.State {
	switch {
	case ev.NewState != "" && ev.NewState.Valid():
		return ev.NewState
	case ev.ExitStatus != 0 && !ev.ManualKill && t.CanRetry():
		return task.StateWaiting
	case ev.ExitStatus != 0:
		return task.StateFailure
	default:
		return task.StateSuccess
	}
}

// StopTask applies a stopped event to t. The transition is attempted from
// Running or Queued, so a task that died before it started still stops.
// It returns false if the task was in neither state.
func (s *Service) StopTask(ctx context.Context, t *task.Task, ev *event.StoppedEvent) (bool, error) {
	newState := stopState(t, ev)
	retry := newState == task.StateWaiting && ev.NewState == ""

	ok, err := s.tasks.SetState(ctx, t.ID, newState, task.StateRunning, task.StateQueued)
	if err != nil || !ok {
		return false, err
	}
	endpoint := t.HostEndpoint
	t.State = newState
	t.HostEndpoint = ""

	if err := s.tasks.SetExitStatus(ctx, t.ID, ev.ExitStatus); err != nil {
		return true, err
	}
	exit := ev.ExitStatus
	t.ExitStatus = &exit

	if retry {
		n, err := s.tasks.IncrementRetryCount(ctx, t.ID)
		if err != nil {
			return true, err
		}
		t.RetryCount = n
	}

	if endpoint != "" {
		if _, err := s.fleet.ReleaseTask(ctx, endpoint, t.ID); err != nil {
			return true, err
		}
	}

	if newState == task.StateFailure && !ev.ManualKill {
		script, err := s.tasks.GetScript(ctx, t.ID)
		if err != nil {
			return true, err
		}
		if _, err := s.errors.SynthesizeFailure(ctx, t, script, ev.ExitStatus); err != nil {
			return true, err
		}
	}

	s.logTransition(t, newState, ev.ExitStatus)
	s.emitter.EmitTaskStopped(ctx, t, newState, ev.ExitStatus)

	if newState.Terminal() {
		if err := s.finishJobIfDone(ctx, t.JobID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Service) logTransition(t *task.Task, state task.State, exitStatus int) {
	level := slog.LevelDebug
	if state.Terminal() {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "task stopped",
		slog.String("task_id", t.ID.String()),
		slog.String("job_id", t.JobID.String()),
		slog.String("state", string(state)),
		slog.Int("exit_status", exitStatus),
		slog.Int("retry_count", t.RetryCount),
	)
}

// finishJobIfDone marks an active job Finished once none of its tasks
// can run again.
func (s *Service) finishJobIfDone(ctx context.Context, jobID id.JobID) error {
	open, err := s.tasks.ListTasksByJob(ctx, jobID, task.StateWaiting, task.StateQueued, task.StateRunning)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return nil
	}
	ok, err := s.jobs.SetJobState(ctx, jobID, job.StateFinished, job.StateActive)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Info("job finished", slog.String("job_id", jobID.String()))
	}
	return nil
}

// release clears an analyst's assignment, logging failures.
func (s *Service) release(ctx context.Context, endpoint string, taskID id.TaskID) {
	if _, err := s.fleet.ReleaseTask(ctx, endpoint, taskID); err != nil && !errors.Is(err, archivist.ErrAnalystNotFound) {
		s.logger.Warn("failed to clear analyst task",
			slog.String("endpoint", endpoint),
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// SubmitJob persists j and its tasks in one transaction when the store
// supports it. Tasks without a retry budget inherit the job's.
func (s *Service) SubmitJob(ctx context.Context, j *job.Job, tasks ...*task.Task) error {
	if j.MaxRetries <= 0 {
		j.MaxRetries = s.defaultMaxRetries
	}
	err := store.InTx(ctx, s.tasks, func(ctx context.Context) error {
		if err := s.jobs.CreateJob(ctx, j); err != nil {
			return err
		}
		for _, t := range tasks {
			t.JobID = j.ID
			if t.MaxRetries <= 0 {
				t.MaxRetries = j.MaxRetries
			}
			if err := s.tasks.CreateTask(ctx, t); err != nil {
				return fmt.Errorf("create task %s: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("organization_id", j.OrganizationID),
		slog.Int("tasks", len(tasks)),
	)
	return nil
}
