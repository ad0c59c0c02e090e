package taskerror_test

import (
	"context"
	"testing"

	"github.com/Juanbuhler/zmlp-sub000/event"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

func newTask() *task.Task {
	return task.New(id.NewJobID(), "t", &task.Script{Assets: []task.Asset{
		{ID: "a1", Path: "/in/a1.mov"},
		{ID: "a2", Path: "/in/a2.mov"},
		{ID: "a3", Path: "/in/a3.mov"},
	}})
}

func TestRecord(t *testing.T) {
	svc := taskerror.NewService(memory.New(), nil)
	ctx := context.Background()
	tk := newTask()

	e, err := svc.Record(ctx, tk, &event.ErrorEvent{
		AssetID:   "a1",
		Message:   "unsupported codec",
		Processor: "video.Proxy",
		Phase:     "execute",
		Stack:     []string{"proxy.py:10"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.TaskID != tk.ID || e.JobID != tk.JobID || e.Fatal {
		t.Errorf("entry = %+v", e)
	}

	got, err := svc.Store().ListTaskErrors(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListTaskErrors: %v", err)
	}
	if len(got) != 1 || got[0].Processor != "video.Proxy" || len(got[0].Stack) != 1 {
		t.Errorf("stored = %+v", got)
	}
}

func TestSynthesizeFailure(t *testing.T) {
	tests := []struct {
		name     string
		reported []string
		want     int
	}{
		{"no reported errors", nil, 3},
		{"some assets covered", []string{"a2"}, 2},
		{"all assets covered", []string{"a1", "a2", "a3"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			svc := taskerror.NewService(s, nil)
			ctx := context.Background()
			tk := newTask()

			for _, asset := range tt.reported {
				if _, err := svc.Record(ctx, tk, &event.ErrorEvent{AssetID: asset, Message: "x"}); err != nil {
					t.Fatal(err)
				}
			}

			n, err := svc.SynthesizeFailure(ctx, tk, tk.Script, 1)
			if err != nil {
				t.Fatalf("SynthesizeFailure: %v", err)
			}
			if n != tt.want {
				t.Errorf("synthesized = %d, want %d", n, tt.want)
			}

			all, _ := s.ListTaskErrors(ctx, tk.ID)
			if len(all) != len(tt.reported)+tt.want {
				t.Errorf("total = %d, want %d", len(all), len(tt.reported)+tt.want)
			}
			for _, e := range all[len(tt.reported):] {
				if !e.Fatal || e.Phase != taskerror.PhaseExecute || e.Path == "" {
					t.Errorf("synthesized entry = %+v", e)
				}
			}

			// A second call finds every asset covered.
			again, _ := svc.SynthesizeFailure(ctx, tk, tk.Script, 1)
			if again != 0 {
				t.Errorf("second call synthesized %d", again)
			}
		})
	}
}

func TestSynthesizeFailure_NoAssets(t *testing.T) {
	svc := taskerror.NewService(memory.New(), nil)
	n, err := svc.SynthesizeFailure(context.Background(), newTask(), nil, 1)
	if err != nil || n != 0 {
		t.Fatalf("SynthesizeFailure(nil script) = %d, %v", n, err)
	}
}
