package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/api"
	"github.com/Juanbuhler/zmlp-sub000/engine"
	"github.com/Juanbuhler/zmlp-sub000/event"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

type nopKiller struct{}

func (nopKiller) Kill(context.Context, string, id.TaskID, analyst.KillRequest) (bool, error) {
	return true, nil
}

type testServer struct {
	eng *engine.Engine
	srv *httptest.Server
}

func newTestServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(memory.New(),
		engine.WithLogger(logger),
		engine.WithHost("api-test"),
		engine.WithKiller(nopKiller{}),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	srv := httptest.NewServer(api.New(eng, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testServer{eng: eng, srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header http.Header) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) submit(t *testing.T) (*job.Job, *task.Task) {
	t.Helper()
	j := job.New("ingest", "org-1")
	tk := task.New(id.Nil, "import", &task.Script{Type: "asset", Assets: []task.Asset{{ID: "a1"}}})
	if err := ts.eng.Dispatcher().SubmitJob(context.Background(), j, tk); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	return j, tk
}

func (ts *testServer) ping(t *testing.T, endpoint string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/cluster/_ping", analyst.Spec{Endpoint: endpoint}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping status = %d", resp.StatusCode)
	}
}

func (ts *testServer) queue(t *testing.T, endpoint string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, "/cluster/_queue", nil, http.Header{api.HeaderAnalystEndpoint: {endpoint}})
}

func (ts *testServer) taskState(t *testing.T, taskID id.TaskID) task.State {
	t.Helper()
	tk, err := ts.eng.Store().GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return tk.State
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// ──────────────────────────────────────────────────
// Cluster routes
// ──────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["host"] != "api-test" {
		t.Errorf("host = %q", body["host"])
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", analyst.Spec{Endpoint: "http://a1:5000", TotalRAM: 1024}, http.StatusOK},
		{"missing endpoint", analyst.Spec{}, http.StatusBadRequest},
		{"bad json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, "/cluster/_ping", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestPing_RegistersAnalyst(t *testing.T) {
	ts := newTestServer(t)
	ts.ping(t, "http://a1:5000")

	a, err := ts.eng.Analysts().Get(context.Background(), "http://a1:5000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.State != analyst.StateUp {
		t.Errorf("state = %q, want up", a.State)
	}
}

func TestQueue(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.do(t, http.MethodPut, "/cluster/_queue", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown analyst", func(t *testing.T) {
		ts := newTestServer(t)
		resp := ts.queue(t, "http://ghost:5000")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("nothing waiting", func(t *testing.T) {
		ts := newTestServer(t)
		ts.ping(t, "http://a1:5000")
		resp := ts.queue(t, "http://a1:5000")
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("status = %d, want 204", resp.StatusCode)
		}
	})

	t.Run("dispatches waiting task", func(t *testing.T) {
		ts := newTestServer(t)
		_, tk := ts.submit(t)
		ts.ping(t, "http://a1:5000")

		resp := ts.queue(t, "http://a1:5000")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		dt := decode[task.DispatchTask](t, resp)
		if dt.ID != tk.ID {
			t.Errorf("task = %s, want %s", dt.ID, tk.ID)
		}
		if dt.OrganizationID != "org-1" {
			t.Errorf("organization = %q", dt.OrganizationID)
		}
		if got := ts.taskState(t, tk.ID); got != task.StateQueued {
			t.Errorf("state = %q, want queued", got)
		}

		// The only task is taken.
		if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusNoContent {
			t.Errorf("second queue status = %d, want 204", resp.StatusCode)
		}
	})
}

func TestEvent_Lifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, tk := ts.submit(t)
	ts.ping(t, "http://a1:5000")
	if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusOK {
		t.Fatalf("queue status = %d", resp.StatusCode)
	}

	post := func(typ event.Type, payload any) bool {
		t.Helper()
		ev, err := event.New(typ, tk.ID, tk.JobID, payload)
		if err != nil {
			t.Fatalf("event.New: %v", err)
		}
		resp := ts.do(t, http.MethodPost, "/cluster/_event", ev, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("event status = %d, want 200", resp.StatusCode)
		}
		return decode[struct {
			OK bool `json:"ok"`
		}](t, resp).OK
	}

	if !post(event.TypeStarted, nil) {
		t.Fatal("started event not handled")
	}
	if got := ts.taskState(t, tk.ID); got != task.StateRunning {
		t.Errorf("state = %q, want running", got)
	}
	if !post(event.TypeStopped, &event.StoppedEvent{ExitStatus: 0}) {
		t.Fatal("stopped event not handled")
	}
	if got := ts.taskState(t, tk.ID); got != task.StateSuccess {
		t.Errorf("state = %q, want success", got)
	}
}

func TestEvent_AlwaysOK(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{not json"},
		{"unknown task", event.Event{Type: event.TypeStarted, TaskID: id.NewTaskID(), JobID: id.NewJobID()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, "/cluster/_event", tt.body, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			body := decode[struct {
				OK bool `json:"ok"`
			}](t, resp)
			if body.OK {
				t.Error("ok = true, want false")
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Operator routes
// ──────────────────────────────────────────────────

func TestOperatorToken(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"not bearer", http.Header{"Authorization": {"secret"}}, http.StatusUnauthorized},
		{"valid", http.Header{"Authorization": {"Bearer secret"}}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, api.WithOperatorToken("secret"))
			resp := ts.do(t, http.MethodGet, "/api/v1/analysts", nil, tt.header)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestOperatorToken_ClusterRoutesOpen(t *testing.T) {
	ts := newTestServer(t, api.WithOperatorToken("secret"))
	ts.ping(t, "http://a1:5000")
}

func TestGetTaskAndJob(t *testing.T) {
	ts := newTestServer(t)
	j, tk := ts.submit(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/tasks/"+tk.ID.String()+"/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get task status = %d", resp.StatusCode)
	}
	if got := decode[task.Task](t, resp); got.ID != tk.ID {
		t.Errorf("task = %s, want %s", got.ID, tk.ID)
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/jobs/"+j.ID.String()+"/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job status = %d", resp.StatusCode)
	}
	if got := decode[job.Job](t, resp); got.ID != j.ID {
		t.Errorf("job = %s, want %s", got.ID, j.ID)
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/jobs/"+j.ID.String()+"/tasks?state=waiting", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job tasks status = %d", resp.StatusCode)
	}
	if got := decode[[]task.Task](t, resp); len(got) != 1 {
		t.Errorf("waiting tasks = %d, want 1", len(got))
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/tasks/"+tk.ID.String()+"/errors", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("task errors status = %d", resp.StatusCode)
	}
}

func TestGetTask_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want int
	}{
		{"malformed id", "/api/v1/tasks/garbage/", http.StatusBadRequest},
		{"wrong prefix", "/api/v1/tasks/" + id.NewJobID().String() + "/", http.StatusBadRequest},
		{"unknown task", "/api/v1/tasks/" + id.NewTaskID().String() + "/", http.StatusNotFound},
		{"unknown job", "/api/v1/jobs/" + id.NewJobID().String() + "/", http.StatusNotFound},
		{"errors of unknown task", "/api/v1/tasks/" + id.NewTaskID().String() + "/errors", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodGet, tt.path, nil, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSkipAndRetryTask(t *testing.T) {
	ts := newTestServer(t)
	_, tk := ts.submit(t)
	base := "/api/v1/tasks/" + tk.ID.String()

	resp := ts.do(t, http.MethodPost, base+"/_skip", map[string]string{"reason": "bad input"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip status = %d", resp.StatusCode)
	}
	if !decode[struct {
		Changed bool `json:"changed"`
	}](t, resp).Changed {
		t.Error("skip changed = false")
	}
	if got := ts.taskState(t, tk.ID); got != task.StateSkipped {
		t.Errorf("state = %q, want skipped", got)
	}

	// Retry with an empty body falls back to the default reason.
	resp = ts.do(t, http.MethodPost, base+"/_retry", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d", resp.StatusCode)
	}
	if got := ts.taskState(t, tk.ID); got != task.StateWaiting {
		t.Errorf("state = %q, want waiting", got)
	}

	// Waiting tasks are not retryable.
	resp = ts.do(t, http.MethodPost, base+"/_retry", nil, nil)
	if decode[struct {
		Changed bool `json:"changed"`
	}](t, resp).Changed {
		t.Error("second retry changed = true")
	}
}

func TestCancelAndRestartJob(t *testing.T) {
	ts := newTestServer(t)
	j, tk := ts.submit(t)
	base := "/api/v1/jobs/" + j.ID.String()

	resp := ts.do(t, http.MethodPost, base+"/_cancel", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	got, err := ts.eng.Store().GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("job state = %q, want cancelled", got.State)
	}

	resp = ts.do(t, http.MethodPost, base+"/_restart", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d", resp.StatusCode)
	}
	if got, _ := ts.eng.Store().GetJob(context.Background(), j.ID); got.State != job.StateActive {
		t.Errorf("job state = %q, want active", got.State)
	}
	if st := ts.taskState(t, tk.ID); st != task.StateWaiting {
		t.Errorf("task state = %q, want waiting", st)
	}
}

func TestPauseAndResumeJob(t *testing.T) {
	ts := newTestServer(t)
	j, _ := ts.submit(t)
	ts.ping(t, "http://a1:5000")
	base := "/api/v1/jobs/" + j.ID.String()

	if resp := ts.do(t, http.MethodPost, base+"/_pause", nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("queue on paused job = %d, want 204", resp.StatusCode)
	}

	if resp := ts.do(t, http.MethodPost, base+"/_resume", nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusOK {
		t.Errorf("queue on resumed job = %d, want 200", resp.StatusCode)
	}
}

func TestAnalystLockUnlock(t *testing.T) {
	ts := newTestServer(t)
	ts.submit(t)
	ts.ping(t, "http://a1:5000")

	resp := ts.do(t, http.MethodPost, "/api/v1/analysts/_lock", map[string]string{"endpoint": "http://a1:5000"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock status = %d", resp.StatusCode)
	}
	if a := decode[analyst.Analyst](t, resp); a.LockState != analyst.Locked {
		t.Errorf("lock state = %q, want locked", a.LockState)
	}
	if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("queue while locked = %d, want 204", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/v1/analysts/_unlock", map[string]string{"endpoint": "http://a1:5000"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unlock status = %d", resp.StatusCode)
	}
	if resp := ts.queue(t, "http://a1:5000"); resp.StatusCode != http.StatusOK {
		t.Errorf("queue after unlock = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/analysts", nil, nil)
	if list := decode[[]analyst.Analyst](t, resp); len(list) != 1 {
		t.Errorf("analysts = %d, want 1", len(list))
	}
}

func TestAnalystLock_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing endpoint", map[string]string{}, http.StatusBadRequest},
		{"bad json", "[", http.StatusBadRequest},
		{"unknown analyst", map[string]string{"endpoint": "http://ghost:5000"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, http.MethodPost, "/api/v1/analysts/_lock", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestExpiredLocks(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/v1/locks/_expired", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMaintenance(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/maintenance", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	entries := decode[[]struct {
		Name string `json:"Name"`
	}](t, resp)
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}

	resp = ts.do(t, http.MethodPost, "/api/v1/maintenance/"+engine.CronTaskOrphans+"/_run", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Name string `json:"name"`
		Ran  bool   `json:"ran"`
	}](t, resp)
	if body.Name != engine.CronTaskOrphans || !body.Ran {
		t.Errorf("body = %+v, want ran %s", body, engine.CronTaskOrphans)
	}

	resp = ts.do(t, http.MethodPost, "/api/v1/maintenance/nope/_run", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", resp.StatusCode)
	}
}
