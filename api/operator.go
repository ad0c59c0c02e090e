package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type pauseRequest struct {
	Until *time.Time `json:"until"`
}

type analystRequest struct {
	Endpoint string `json:"endpoint"`
}

// changedResponse reports whether a conditional operation took effect.
type changedResponse struct {
	Changed bool `json:"changed"`
}

type maintenanceResponse struct {
	Name string `json:"name"`
	Ran  bool   `json:"ran"`
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *API) taskID(w http.ResponseWriter, r *http.Request) (id.TaskID, bool) {
	tid, err := id.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid task ID: "+err.Error())
		return id.Nil, false
	}
	return tid, true
}

func (a *API) jobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jid, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid job ID: "+err.Error())
		return id.Nil, false
	}
	return jid, true
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tid, ok := a.taskID(w, r)
	if !ok {
		return
	}
	t, err := a.eng.Store().GetTask(r.Context(), tid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleTaskErrors(w http.ResponseWriter, r *http.Request) {
	tid, ok := a.taskID(w, r)
	if !ok {
		return
	}
	if _, err := a.eng.Store().GetTask(r.Context(), tid); err != nil {
		writeStoreError(w, err)
		return
	}
	errs, err := a.eng.Store().ListTaskErrors(r.Context(), tid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, errs)
}

func (a *API) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	a.taskAction(w, r, a.eng.Dispatcher().RetryTask, "retried by operator")
}

func (a *API) handleSkipTask(w http.ResponseWriter, r *http.Request) {
	a.taskAction(w, r, a.eng.Dispatcher().SkipTask, "skipped by operator")
}

func (a *API) taskAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.TaskID, string) (bool, error), defaultReason string) {
	tid, ok := a.taskID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = defaultReason
	}
	changed, err := fn(r.Context(), tid, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Store().GetJob(r.Context(), jid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) handleJobTasks(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var states []task.State
	for _, s := range r.URL.Query()["state"] {
		states = append(states, task.State(s))
	}
	tasks, err := a.eng.Store().ListTasksByJob(r.Context(), jid, states...)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "job cancelled by operator"
	}
	changed, err := a.eng.Dispatcher().CancelJob(r.Context(), jid, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (a *API) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	changed, err := a.eng.Dispatcher().RestartJob(r.Context(), jid)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (a *API) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if err := a.eng.Dispatcher().PauseJob(r.Context(), jid, req.Until); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	jid, ok := a.jobID(w, r)
	if !ok {
		return
	}
	if err := a.eng.Dispatcher().ResumeJob(r.Context(), jid); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Analysts
// ──────────────────────────────────────────────────

func (a *API) handleListAnalysts(w http.ResponseWriter, r *http.Request) {
	list, err := a.eng.Analysts().List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleLockAnalyst(w http.ResponseWriter, r *http.Request) {
	a.analystAction(w, r, a.eng.Analysts().Lock)
}

func (a *API) handleUnlockAnalyst(w http.ResponseWriter, r *http.Request) {
	a.analystAction(w, r, a.eng.Analysts().Unlock)
}

func (a *API) analystAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	var req analystRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "endpoint is required")
		return
	}
	if err := fn(r.Context(), req.Endpoint); err != nil {
		writeStoreError(w, err)
		return
	}
	an, err := a.eng.Analysts().Get(r.Context(), req.Endpoint)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

// ──────────────────────────────────────────────────
// Cluster locks and maintenance
// ──────────────────────────────────────────────────

func (a *API) handleExpiredLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := a.eng.Locks().GetExpired(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locks)
}

func (a *API) handleListMaintenance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.eng.Scheduler().Entries())
}

func (a *API) handleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ran, err := a.eng.RunMaintenance(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{Name: name, Ran: ran})
}
