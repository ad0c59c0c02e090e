package job

import (
	"context"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs in the given states, newest first. No states
	// means all jobs.
	ListJobs(ctx context.Context, states ...State) ([]*Job, error)

	// SetJobState moves the job to state if its current state is one of
	// expected (any state when expected is empty). Returns false on a
	// state mismatch.
	SetJobState(ctx context.Context, jobID id.JobID, state State, expected ...State) (bool, error)

	// SetJobPaused sets the pause flag. until may be nil for an open-ended
	// pause.
	SetJobPaused(ctx context.Context, jobID id.JobID, paused bool, until *time.Time) error

	// MarkJobStarted records the first time any task of the job started.
	// Later calls leave the first timestamp in place.
	MarkJobStarted(ctx context.Context, jobID id.JobID, at time.Time) error
}
