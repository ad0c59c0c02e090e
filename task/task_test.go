package task_test

import (
	"testing"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state      task.State
		terminal   bool
		dispatched bool
	}{
		{task.StateWaiting, false, false},
		{task.StateQueued, false, true},
		{task.StateRunning, false, true},
		{task.StateSuccess, true, false},
		{task.StateFailure, true, false},
		{task.StateSkipped, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.state.Dispatched(); got != tt.dispatched {
				t.Errorf("Dispatched() = %v, want %v", got, tt.dispatched)
			}
			if !tt.state.Valid() {
				t.Error("expected state to be valid")
			}
		})
	}
	if task.State("bogus").Valid() {
		t.Error("unknown state reported valid")
	}
}

func TestNew(t *testing.T) {
	jobID := id.NewJobID()
	tk := task.New(jobID, "ingest", nil)
	if tk.State != task.StateWaiting {
		t.Errorf("State = %q, want waiting", tk.State)
	}
	if tk.JobID != jobID {
		t.Errorf("JobID = %v, want %v", tk.JobID, jobID)
	}
	if tk.ID.Prefix() != id.PrefixTask {
		t.Errorf("ID prefix = %q", tk.ID.Prefix())
	}
	if !tk.ParentID.IsNil() {
		t.Error("expected no parent")
	}
}

func TestTask_CanRetry(t *testing.T) {
	tk := &task.Task{MaxRetries: 2}
	if !tk.CanRetry() {
		t.Error("expected retry with 0 of 2 used")
	}
	tk.RetryCount = 2
	if tk.CanRetry() {
		t.Error("expected no retry with budget spent")
	}
}

func TestScript_Expand(t *testing.T) {
	parent := &task.Script{
		Type:       "batch",
		GlobalArgs: map[string]any{"project": "p1"},
		Settings:   map[string]any{"fileTypes": "jpg"},
		Execute: []task.Processor{
			{ClassName: "ingest.Detect"},
			{ClassName: "ingest.Thumbnail"},
		},
		Assets: []task.Asset{{ID: "a1"}},
	}

	t.Run("inherits pipeline", func(t *testing.T) {
		child := parent.Expand(task.ExpandSpec{Name: "more", Assets: []task.Asset{{ID: "a2"}, {ID: "a3"}}})
		if child.Type != "batch" {
			t.Errorf("Type = %q", child.Type)
		}
		if child.GlobalArgs["project"] != "p1" || child.Settings["fileTypes"] != "jpg" {
			t.Errorf("context not inherited: %+v %+v", child.GlobalArgs, child.Settings)
		}
		if len(child.Execute) != 2 || child.Execute[1].ClassName != "ingest.Thumbnail" {
			t.Errorf("Execute = %+v", child.Execute)
		}
		if got := child.AssetIDs(); len(got) != 2 || got[0] != "a2" {
			t.Errorf("AssetIDs = %v", got)
		}
	})

	t.Run("explicit steps", func(t *testing.T) {
		child := parent.Expand(task.ExpandSpec{Execute: []task.Processor{{ClassName: "ocr.Run"}}})
		if len(child.Execute) != 1 || child.Execute[0].ClassName != "ocr.Run" {
			t.Errorf("Execute = %+v", child.Execute)
		}
	})

	t.Run("does not alias parent", func(t *testing.T) {
		child := parent.Expand(task.ExpandSpec{})
		child.GlobalArgs["project"] = "other"
		child.Execute[0].ClassName = "changed"
		if parent.GlobalArgs["project"] != "p1" || parent.Execute[0].ClassName != "ingest.Detect" {
			t.Error("child mutation leaked into parent")
		}
	})

	t.Run("nil parent", func(t *testing.T) {
		var s *task.Script
		child := s.Expand(task.ExpandSpec{Execute: []task.Processor{{ClassName: "x"}}})
		if len(child.Execute) != 1 {
			t.Errorf("Execute = %+v", child.Execute)
		}
	})
}
