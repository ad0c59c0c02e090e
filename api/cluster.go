package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/event"
)

// maxEventBody bounds analyst event payloads.
const maxEventBody = 4 << 20

// eventResponse is the body of every /cluster/_event reply.
type eventResponse struct {
	OK bool `json:"ok"`
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	var spec analyst.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	spec.Endpoint = strings.TrimSpace(spec.Endpoint)
	if spec.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "endpoint is required")
		return
	}

	an, err := a.eng.Analysts().Upsert(r.Context(), &spec)
	if err != nil {
		a.logger.Error("analyst heartbeat failed",
			slog.String("endpoint", spec.Endpoint),
			slog.String("error", err.Error()),
		)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

// handleQueue hands the calling analyst its next task, or 204 when there
// is nothing to do.
func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimSpace(r.Header.Get(HeaderAnalystEndpoint))
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", HeaderAnalystEndpoint+" header is required")
		return
	}

	dt, err := a.eng.Queue().GetNext(r.Context(), endpoint)
	if err != nil {
		if errors.Is(err, archivist.ErrAnalystNotFound) {
			writeError(w, http.StatusNotFound, "unknown_analyst", "analyst must ping before requesting work")
			return
		}
		a.logger.Error("dispatch failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "dispatch_failed", err.Error())
		return
	}
	if dt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}

// handleEvent always answers 200. Failures are reported in the body and
// logged; they never surface to the analyst as an HTTP error.
func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		a.logger.Warn("undecodable analyst event", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, eventResponse{OK: false})
		return
	}
	ok := a.eng.Dispatcher().HandleEvent(r.Context(), &ev)
	writeJSON(w, http.StatusOK, eventResponse{OK: ok})
}
