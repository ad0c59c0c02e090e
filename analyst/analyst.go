package analyst

import (
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// State is the liveness state of an analyst.
type State string

const (
	// StateUp means the analyst is heartbeating.
	StateUp State = "up"
	// StateDown means the analyst stopped heartbeating.
	StateDown State = "down"
)

// LockState is the maintenance flag of an analyst.
type LockState string

const (
	// Unlocked analysts receive work.
	Unlocked LockState = "unlocked"
	// Locked analysts receive no new work.
	Locked LockState = "locked"
)

// Analyst is one registered worker process.
type Analyst struct {
	ID          id.AnalystID `json:"id"`
	Endpoint    string       `json:"endpoint"`
	State       State        `json:"state"`
	LockState   LockState    `json:"lock_state"`
	TaskID      id.TaskID    `json:"task_id"`
	Version     string       `json:"version,omitempty"`
	TotalRAM    int64        `json:"total_ram"`
	FreeRAM     int64        `json:"free_ram"`
	FreeDisk    int64        `json:"free_disk"`
	Load        float64      `json:"load"`
	TimeCreated time.Time    `json:"time_created"`
	TimePing    time.Time    `json:"time_ping"`
}

// Spec is the heartbeat an analyst sends.
type Spec struct {
	Endpoint string    `json:"endpoint"`
	Version  string    `json:"version,omitempty"`
	TaskID   id.TaskID `json:"task_id"`
	TotalRAM int64     `json:"total_ram"`
	FreeRAM  int64     `json:"free_ram"`
	FreeDisk int64     `json:"free_disk"`
	Load     float64   `json:"load"`
}
