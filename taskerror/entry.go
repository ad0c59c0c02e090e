package taskerror

import (
	"time"

	"github.com/Juanbuhler/zmlp-sub000/id"
)

// Entry is one processing error of one asset.
type Entry struct {
	ID        id.TaskErrorID `json:"id"`
	TaskID    id.TaskID      `json:"task_id"`
	JobID     id.JobID       `json:"job_id"`
	AssetID   string         `json:"asset_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Message   string         `json:"message"`
	Processor string         `json:"processor,omitempty"`
	Fatal     bool           `json:"fatal"`
	Phase     string         `json:"phase,omitempty"`
	Stack     []string       `json:"stack,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
