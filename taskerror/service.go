package taskerror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/event"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Phase recorded on synthesized entries.
const PhaseExecute = "execute"

// Service provides task error operations over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a task error service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Record persists an error reported by an analyst for t.
func (s *Service) Record(ctx context.Context, t *task.Task, ev *event.ErrorEvent) (*Entry, error) {
	e := &Entry{
		ID:        id.NewTaskErrorID(),
		TaskID:    t.ID,
		JobID:     t.JobID,
		AssetID:   ev.AssetID,
		Path:      ev.Path,
		Message:   ev.Message,
		Processor: ev.Processor,
		Fatal:     ev.Fatal,
		Phase:     ev.Phase,
		Stack:     ev.Stack,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateTaskErrors(ctx, []*Entry{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// SynthesizeFailure records a fatal error for every asset in script that
// has no error for t yet and returns how many were written.
func (s *Service) SynthesizeFailure(ctx context.Context, t *task.Task, script *task.Script, exitStatus int) (int, error) {
	if script == nil || len(script.Assets) == 0 {
		return 0, nil
	}

	existing, err := s.store.ListTaskErrors(ctx, t.ID)
	if err != nil {
		return 0, err
	}
	covered := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		covered[e.AssetID] = struct{}{}
	}

	now := time.Now().UTC()
	msg := fmt.Sprintf("task %s failed with exit status %d", t.ID, exitStatus)
	var entries []*Entry
	for _, a := range script.Assets {
		if _, ok := covered[a.ID]; ok {
			continue
		}
		covered[a.ID] = struct{}{}
		entries = append(entries, &Entry{
			ID:        id.NewTaskErrorID(),
			TaskID:    t.ID,
			JobID:     t.JobID,
			AssetID:   a.ID,
			Path:      a.Path,
			Message:   msg,
			Fatal:     true,
			Phase:     PhaseExecute,
			CreatedAt: now,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.store.CreateTaskErrors(ctx, entries); err != nil {
		return 0, err
	}

	s.logger.Info("synthesized task errors",
		slog.String("task_id", t.ID.String()),
		slog.Int("count", len(entries)),
	)
	return len(entries), nil
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}
