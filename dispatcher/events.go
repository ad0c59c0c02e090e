package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/event"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// HandleEvent applies an analyst event. It never returns an error: the
// analyst always gets an answer, and the return value only reports
// whether the event changed anything.
func (s *Service) HandleEvent(ctx context.Context, ev *event.Event) (handled bool) {
	// A client that hangs up mid-event must not leave a half-applied
	// transition behind.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(
		slog.String("event", string(ev.Type)),
		slog.String("task_id", ev.TaskID.String()),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panic", slog.Any("panic", r))
			handled = false
		}
	}()

	t, err := s.tasks.GetTask(ctx, ev.TaskID)
	if err != nil {
		if errors.Is(err, archivist.ErrTaskNotFound) {
			log.Warn("event for unknown task")
		} else {
			log.Error("failed to load task for event", slog.String("error", err.Error()))
		}
		return false
	}

	handled, err = s.dispatchEvent(ctx, t, ev)
	if err != nil {
		log.Error("failed to handle event", slog.String("error", err.Error()))
		return false
	}
	if !handled {
		log.Debug("event ignored", slog.String("state", string(t.State)))
	}
	return handled
}

func (s *Service) dispatchEvent(ctx context.Context, t *task.Task, ev *event.Event) (bool, error) {
	switch ev.Type {
	case event.TypeStarted:
		return s.StartTask(ctx, t)

	case event.TypeStopped:
		p, err := ev.AsStopped()
		if err != nil {
			return false, err
		}
		return s.StopTask(ctx, t, p)

	case event.TypeError:
		p, err := ev.AsError()
		if err != nil {
			return false, err
		}
		if _, err := s.errors.Record(ctx, t, p); err != nil {
			return false, err
		}
		return true, nil

	case event.TypeExpand:
		p, err := ev.AsExpand()
		if err != nil {
			return false, err
		}
		if _, err := s.ExpandTask(ctx, t, p.Spec()); err != nil {
			return false, err
		}
		return true, nil

	case event.TypeMessage:
		p, err := ev.AsMessage()
		if err != nil {
			return false, err
		}
		s.logger.Info("task message",
			slog.String("task_id", t.ID.String()),
			slog.String("message", p.Message),
		)
		return true, nil

	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

// ExpandTask creates a child of parent. The child inherits the parent's
// script type, global arguments and settings, and runs either spec's
// pipeline or, when spec has none, the parent's.
func (s *Service) ExpandTask(ctx context.Context, parent *task.Task, spec task.ExpandSpec) (*task.Task, error) {
	script, err := s.tasks.GetScript(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	name := spec.Name
	if name == "" {
		name = "expand of " + parent.Name
	}
	child := task.New(parent.JobID, name, script.Expand(spec))
	child.MaxRetries = parent.MaxRetries

	if err := s.tasks.CreateChildTask(ctx, parent.ID, child); err != nil {
		return nil, err
	}

	s.logger.Info("task expanded",
		slog.String("parent_id", parent.ID.String()),
		slog.String("task_id", child.ID.String()),
		slog.Int("assets", len(spec.Assets)),
	)
	s.emitter.EmitTaskExpanded(ctx, parent, child)
	return child, nil
}
