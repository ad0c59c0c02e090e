package task

import (
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/id"
)

// State is the lifecycle state of a task.
type State string

const (
	// StateWaiting means the task may be dispatched.
	StateWaiting State = "waiting"
	// StateQueued means an analyst claimed the task but has not started it.
	StateQueued State = "queued"
	// StateRunning means an analyst is executing the task.
	StateRunning State = "running"
	// StateSuccess means the task finished with exit status zero.
	StateSuccess State = "success"
	// StateFailure means the task failed and will not be retried.
	StateFailure State = "failure"
	// StateSkipped means an operator skipped the task.
	StateSkipped State = "skipped"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateSkipped:
		return true
	default:
		return false
	}
}

// Dispatched reports whether a task in state s is assigned to an analyst.
func (s State) Dispatched() bool {
	return s == StateQueued || s == StateRunning
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateQueued, StateRunning, StateSuccess, StateFailure, StateSkipped:
		return true
	default:
		return false
	}
}

// Task is a dispatchable unit of work belonging to a job.
type Task struct {
	archivist.Entity

	ID           id.TaskID  `json:"id"`
	JobID        id.JobID   `json:"job_id"`
	ParentID     id.TaskID  `json:"parent_id,omitempty"`
	Name         string     `json:"name"`
	State        State      `json:"state"`
	HostEndpoint string     `json:"host_endpoint,omitempty"`
	ExitStatus   *int       `json:"exit_status,omitempty"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	TimeStarted  *time.Time `json:"time_started,omitempty"`
	TimeStopped  *time.Time `json:"time_stopped,omitempty"`
	TimePing     *time.Time `json:"time_ping,omitempty"`
	Script       *Script    `json:"script,omitempty"`
}

// New returns a waiting task for jobID.
func New(jobID id.JobID, name string, script *Script) *Task {
	return &Task{
		Entity: archivist.NewEntity(),
		ID:     id.NewTaskID(),
		JobID:  jobID,
		Name:   name,
		State:  StateWaiting,
		Script: script,
	}
}

// CanRetry reports whether the retry budget allows another attempt.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// DispatchTask is the view of a task handed to an analyst: the task,
// the fields of its job the scheduler needs, and once dispatched the
// environment and log upload URL.
type DispatchTask struct {
	Task

	OrganizationID string            `json:"organization_id"`
	Priority       int               `json:"priority"`
	Env            map[string]string `json:"env,omitempty"`
	LogURL         string            `json:"log_url,omitempty"`
}
