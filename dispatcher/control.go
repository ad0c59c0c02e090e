package dispatcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// RetryTask sends a task back to Waiting. A dispatched task is killed on
// its analyst first; the local state changes whether or not the analyst
// could be reached. A retried task reopens its finished job.
func (s *Service) RetryTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error) {
	ok, err := s.forceState(ctx, taskID, task.StateWaiting, reason,
		task.StateQueued, task.StateRunning, task.StateSuccess, task.StateFailure, task.StateSkipped)
	if err != nil || !ok {
		return ok, err
	}
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return true, err
	}
	if _, err := s.jobs.SetJobState(ctx, t.JobID, job.StateActive, job.StateFinished); err != nil {
		return true, err
	}
	return true, nil
}

// SkipTask moves a task to Skipped, killing it first if dispatched.
func (s *Service) SkipTask(ctx context.Context, taskID id.TaskID, reason string) (bool, error) {
	ok, err := s.forceState(ctx, taskID, task.StateSkipped, reason,
		task.StateWaiting, task.StateQueued, task.StateRunning, task.StateFailure)
	if err != nil || !ok {
		return ok, err
	}
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return true, err
	}
	return true, s.finishJobIfDone(ctx, t.JobID)
}

// forceState moves a task to state from any of from. If the task is on an
// analyst it is killed there first, best effort.
func (s *Service) forceState(ctx context.Context, taskID id.TaskID, state task.State, reason string, from ...task.State) (bool, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}

	endpoint := t.HostEndpoint
	if t.State.Dispatched() && endpoint != "" {
		s.fleet.KillTask(ctx, endpoint, t.ID, reason, state)
	}

	ok, err := s.tasks.SetState(ctx, t.ID, state, from...)
	if err != nil || !ok {
		return false, err
	}
	if endpoint != "" {
		s.release(ctx, endpoint, t.ID)
	}

	s.logger.Info("task state forced",
		slog.String("task_id", t.ID.String()),
		slog.String("from", string(t.State)),
		slog.String("state", string(state)),
		slog.String("reason", reason),
	)
	t.State = state
	t.HostEndpoint = ""
	if state.Terminal() {
		s.emitter.EmitTaskStopped(ctx, t, state, exitOf(t))
	}
	return true, nil
}

func exitOf(t *task.Task) int {
	if t.ExitStatus != nil {
		return *t.ExitStatus
	}
	return noExitStatus
}

// CancelJob moves an active job to Cancelled and kills every task it has
// on an analyst. Killed tasks go back to Waiting whether or not their
// analyst answered, so a restarted job picks them up again. It returns
// false if the job was not active.
func (s *Service) CancelJob(ctx context.Context, jobID id.JobID, reason string) (bool, error) {
	ok, err := s.jobs.SetJobState(ctx, jobID, job.StateCancelled, job.StateActive)
	if err != nil || !ok {
		return false, err
	}

	dispatched, err := s.tasks.ListTasksByJob(ctx, jobID, task.StateQueued, task.StateRunning)
	if err != nil {
		return true, err
	}

	var killed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.killConcurrency)
	for _, t := range dispatched {
		g.Go(func() error {
			if t.HostEndpoint != "" && s.fleet.KillTask(gctx, t.HostEndpoint, t.ID, reason, task.StateWaiting) {
				killed.Add(1)
			}
			// Use the parent context: one failed write must not cancel the
			// local cleanup of the other tasks.
			if _, err := s.tasks.SetState(ctx, t.ID, task.StateWaiting, task.StateQueued, task.StateRunning); err != nil {
				return err
			}
			if t.HostEndpoint != "" {
				s.release(ctx, t.HostEndpoint, t.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return true, err
	}

	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return true, err
	}
	s.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.Int("dispatched", len(dispatched)),
		slog.Int64("killed", killed.Load()),
		slog.String("reason", reason),
	)
	s.emitter.EmitJobCancelled(ctx, j, int(killed.Load()))
	return true, nil
}

// RestartJob reactivates a cancelled job.
func (s *Service) RestartJob(ctx context.Context, jobID id.JobID) (bool, error) {
	ok, err := s.jobs.SetJobState(ctx, jobID, job.StateActive, job.StateCancelled)
	if err != nil || !ok {
		return false, err
	}
	s.logger.Info("job restarted", slog.String("job_id", jobID.String()))
	return true, nil
}

// PauseJob stops dispatching a job's tasks until ResumeJob, or until
// until passes when it is non-nil. Tasks already dispatched keep running.
func (s *Service) PauseJob(ctx context.Context, jobID id.JobID, until *time.Time) error {
	if err := s.jobs.SetJobPaused(ctx, jobID, true, until); err != nil {
		return err
	}
	attrs := []any{slog.String("job_id", jobID.String())}
	if until != nil {
		attrs = append(attrs, slog.Time("until", *until))
	}
	s.logger.Info("job paused", attrs...)
	return nil
}

// ResumeJob clears a job's pause.
func (s *Service) ResumeJob(ctx context.Context, jobID id.JobID) error {
	if err := s.jobs.SetJobPaused(ctx, jobID, false, nil); err != nil {
		return err
	}
	s.logger.Info("job resumed", slog.String("job_id", jobID.String()))
	return nil
}
