package task

import (
	"context"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Store defines the persistence contract for tasks.
type Store interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *Task) error

	// CreateChildTask persists child under parent: the child gets the
	// parent's job and records the parent ID. Returns ErrTaskNotFound if
	// parent does not exist.
	CreateChildTask(ctx context.Context, parentID id.TaskID, child *Task) error

	// GetTask retrieves a task by ID, script included.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// GetScript returns the pipeline script of a task.
	GetScript(ctx context.Context, taskID id.TaskID) (*Script, error)

	// GetWaitingTasks returns up to limit waiting tasks of active,
	// unpaused jobs, ordered by job priority ascending then task age.
	// Scripts are not loaded.
	GetWaitingTasks(ctx context.Context, limit int) ([]*DispatchTask, error)

	// ListTasksByJob returns the tasks of a job in the given states (all
	// states when none are given).
	ListTasksByJob(ctx context.Context, jobID id.JobID, states ...State) ([]*Task, error)

	// SetState moves the task to state if its persisted state is one of
	// expected (any state when expected is empty) and returns whether it
	// did. Entering running stamps the start time, entering a terminal
	// state stamps the stop time, and leaving queued or running clears
	// the host endpoint.
	SetState(ctx context.Context, taskID id.TaskID, state State, expected ...State) (bool, error)

	// SetHostEndpoint records the analyst a task was queued on and resets
	// its ping time.
	SetHostEndpoint(ctx context.Context, taskID id.TaskID, endpoint string) error

	// SetExitStatus records the exit status reported by the analyst.
	SetExitStatus(ctx context.Context, taskID id.TaskID, status int) error

	// IncrementRetryCount bumps the retry count and returns the new value.
	IncrementRetryCount(ctx context.Context, taskID id.TaskID) (int, error)

	// PingTask updates the ping time of a task if it is still dispatched
	// to endpoint.
	PingTask(ctx context.Context, taskID id.TaskID, endpoint string, at time.Time) error

	// ListOrphanedTasks returns queued or running tasks whose last ping is
	// older than olderThan.
	ListOrphanedTasks(ctx context.Context, olderThan time.Time) ([]*Task, error)
}
