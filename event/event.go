// Package event defines the lifecycle events analysts post about the tasks
// they run.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Type identifies the payload carried by an Event.
type Type string

const (
	TypeStarted Type = "started"
	TypeStopped Type = "stopped"
	TypeError   Type = "error"
	TypeExpand  Type = "expand"
	TypeMessage Type = "message"
)

// Event is the envelope an analyst posts for a task.
type Event struct {
	Type    Type            `json:"type"`
	TaskID  id.TaskID       `json:"task_id"`
	JobID   id.JobID        `json:"job_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StoppedEvent reports that a task process exited.
type StoppedEvent struct {
	ExitStatus int `json:"exit_status"`
	// ManualKill is set when the process was killed on request.
	ManualKill bool `json:"manual_kill"`
	// NewState overrides the state derived from the exit status.
	NewState task.State `json:"new_state,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// ErrorEvent reports a processing error on one asset.
type ErrorEvent struct {
	AssetID   string   `json:"asset_id,omitempty"`
	Path      string   `json:"path,omitempty"`
	Message   string   `json:"message"`
	Processor string   `json:"processor,omitempty"`
	Fatal     bool     `json:"fatal"`
	Phase     string   `json:"phase,omitempty"`
	Stack     []string `json:"stack,omitempty"`
}

// ExpandEvent registers a child task discovered while running.
type ExpandEvent struct {
	Name    string           `json:"name"`
	Assets  []task.Asset     `json:"assets,omitempty"`
	Execute []task.Processor `json:"execute,omitempty"`
}

// Spec converts the event to an expansion request.
func (e *ExpandEvent) Spec() task.ExpandSpec {
	return task.ExpandSpec{Name: e.Name, Assets: e.Assets, Execute: e.Execute}
}

// MessageEvent is free-form progress output.
type MessageEvent struct {
	Message string `json:"message"`
}

// New builds an event with payload encoded as JSON. payload may be nil.
func New(typ Type, taskID id.TaskID, jobID id.JobID, payload any) (*Event, error) {
	e := &Event{Type: typ, TaskID: taskID, JobID: jobID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", typ, err)
		}
		e.Payload = raw
	}
	return e, nil
}

// AsStopped decodes the payload of a stopped event.
func (e *Event) AsStopped() (*StoppedEvent, error) {
	var p StoppedEvent
	return &p, e.decode(TypeStopped, &p)
}

// AsError decodes the payload of an error event.
func (e *Event) AsError() (*ErrorEvent, error) {
	var p ErrorEvent
	return &p, e.decode(TypeError, &p)
}

// AsExpand decodes the payload of an expand event.
func (e *Event) AsExpand() (*ExpandEvent, error) {
	var p ExpandEvent
	return &p, e.decode(TypeExpand, &p)
}

// AsMessage decodes the payload of a message event.
func (e *Event) AsMessage() (*MessageEvent, error) {
	var p MessageEvent
	return &p, e.decode(TypeMessage, &p)
}

func (e *Event) decode(want Type, into any) error {
	if e.Type != want {
		return fmt.Errorf("event is %q, not %q", e.Type, want)
	}
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return fmt.Errorf("decode %s event: %w", want, err)
	}
	return nil
}
