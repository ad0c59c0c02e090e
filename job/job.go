package job

import (
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
)

// State is the aggregate state of a job.
type State string

const (
	// StateActive means the job's tasks may be dispatched.
	StateActive State = "active"
	// StateCancelled means the job was cancelled; running tasks are killed
	// and no waiting task is dispatched.
	StateCancelled State = "cancelled"
	// StateFinished means every task reached a terminal state.
	StateFinished State = "finished"
	// StateArchived means the job is kept only for history.
	StateArchived State = "archived"
)

// Dispatch priorities. Lower values dispatch first.
const (
	PriorityReindex     = -32000
	PriorityInteractive = 1
	PriorityStandard    = 100
)

// Job is a named collection of tasks sharing priority, pause and
// cancellation.
type Job struct {
	archivist.Entity

	ID             id.JobID   `json:"id"`
	Name           string     `json:"name"`
	OrganizationID string     `json:"organization_id"`
	State          State      `json:"state"`
	Priority       int        `json:"priority"`
	Paused         bool       `json:"paused"`
	PausedUntil    *time.Time `json:"paused_until,omitempty"`
	MaxRetries     int        `json:"max_retries"`
	TimeStarted    *time.Time `json:"time_started,omitempty"`
}

// New returns an active job at standard priority.
func New(name, organizationID string) *Job {
	return &Job{
		Entity:         archivist.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		OrganizationID: organizationID,
		State:          StateActive,
		Priority:       PriorityStandard,
	}
}

// IsPaused reports whether the job is paused at asOf. A pause with an
// expiry in the past no longer applies.
func (j *Job) IsPaused(asOf time.Time) bool {
	if !j.Paused {
		return false
	}
	return j.PausedUntil == nil || j.PausedUntil.After(asOf)
}

// Dispatchable reports whether waiting tasks of the job may be queued at
// asOf.
func (j *Job) Dispatchable(asOf time.Time) bool {
	return j.State == StateActive && !j.IsPaused(asOf)
}
