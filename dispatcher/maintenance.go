package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// RetryOrphanedTasks returns dispatched tasks whose analyst has not
// pinged them for olderThan to Waiting, killing them first in case the
// analyst is alive but lost track. Returns how many were reset.
func (s *Service) RetryOrphanedTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	orphans, err := s.tasks.ListOrphanedTasks(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, t := range orphans {
		if t.HostEndpoint != "" {
			s.fleet.KillTask(ctx, t.HostEndpoint, t.ID, "orphaned task", task.StateWaiting)
		}
		// Expect the observed state: a stop that landed meanwhile wins.
		ok, err := s.tasks.SetState(ctx, t.ID, task.StateWaiting, t.State)
		if err != nil {
			return reset, err
		}
		if !ok {
			continue
		}
		if t.HostEndpoint != "" {
			s.release(ctx, t.HostEndpoint, t.ID)
		}
		reset++
		s.logger.Warn("orphaned task reset",
			slog.String("task_id", t.ID.String()),
			slog.String("endpoint", t.HostEndpoint),
			slog.String("from", string(t.State)),
		)
	}
	return reset, nil
}

// DownUnresponsiveAnalysts marks Up analysts whose heartbeat is older
// than olderThan as Down and returns the task each one held to Waiting.
// Returns how many analysts were marked down.
func (s *Service) DownUnresponsiveAnalysts(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.fleet.GetUnresponsive(ctx, analyst.StateUp, olderThan)
	if err != nil {
		return 0, err
	}

	for _, a := range stale {
		if err := s.fleet.SetState(ctx, a.Endpoint, analyst.StateDown); err != nil {
			return 0, err
		}
		s.logger.Warn("analyst unresponsive",
			slog.String("endpoint", a.Endpoint),
			slog.Time("last_ping", a.TimePing),
		)

		if a.TaskID.IsNil() {
			continue
		}
		t, err := s.tasks.GetTask(ctx, a.TaskID)
		switch {
		case errors.Is(err, archivist.ErrTaskNotFound):
			s.release(ctx, a.Endpoint, a.TaskID)
			continue
		case err != nil:
			return 0, err
		}
		// Only reset the task if it still belongs to this analyst.
		if t.State.Dispatched() && t.HostEndpoint == a.Endpoint {
			if _, err := s.tasks.SetState(ctx, t.ID, task.StateWaiting, t.State); err != nil {
				return 0, err
			}
		}
		s.release(ctx, a.Endpoint, a.TaskID)
	}
	return len(stale), nil
}
