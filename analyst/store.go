package analyst

import (
	"context"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Store defines the persistence contract for the analyst registry.
type Store interface {
	// UpdateAnalyst applies a heartbeat to an existing analyst, marking it
	// up. Returns false if no analyst has spec's endpoint.
	UpdateAnalyst(ctx context.Context, spec *Spec, now time.Time) (bool, error)

	// CreateAnalyst registers a new analyst. Returns ErrAnalystExists if
	// the endpoint is taken.
	CreateAnalyst(ctx context.Context, a *Analyst) error

	// GetAnalyst returns the analyst at endpoint.
	GetAnalyst(ctx context.Context, endpoint string) (*Analyst, error)

	// ListAnalysts returns every registered analyst.
	ListAnalysts(ctx context.Context) ([]*Analyst, error)

	// SetAnalystLockState sets the maintenance flag.
	SetAnalystLockState(ctx context.Context, endpoint string, state LockState) error

	// SetAnalystState sets the liveness state.
	SetAnalystState(ctx context.Context, endpoint string, state State) error

	// SetAnalystTask records the task an analyst was given.
	SetAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) error

	// ClearAnalystTask clears the analyst's task if it is still taskID.
	ClearAnalystTask(ctx context.Context, endpoint string, taskID id.TaskID) (bool, error)

	// ListUnresponsiveAnalysts returns analysts in state whose last
	// heartbeat is before olderThan.
	ListUnresponsiveAnalysts(ctx context.Context, state State, olderThan time.Time) ([]*Analyst, error)
}
