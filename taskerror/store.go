package taskerror

import (
	"context"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Store defines the persistence contract for task errors.
type Store interface {
	// CreateTaskErrors persists entries.
	CreateTaskErrors(ctx context.Context, entries []*Entry) error

	// ListTaskErrors returns the errors of a task, oldest first.
	ListTaskErrors(ctx context.Context, taskID id.TaskID) ([]*Entry, error)

	// CountTaskErrors returns the number of errors recorded for a job.
	CountTaskErrors(ctx context.Context, jobID id.JobID) (int64, error)
}
