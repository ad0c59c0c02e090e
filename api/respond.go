package api

import (
	"encoding/json"
	"errors"
	"net/http"

	archivist "github.com/Juanbuhler/zmlp-sub000"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeStoreError maps sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, archivist.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, archivist.ErrAnalystExists),
		errors.Is(err, archivist.ErrJobAlreadyExists),
		errors.Is(err, archivist.ErrTaskAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, archivist.ErrTaskNotFound) ||
		errors.Is(err, archivist.ErrJobNotFound) ||
		errors.Is(err, archivist.ErrAnalystNotFound) ||
		errors.Is(err, archivist.ErrTaskErrorNotFound) ||
		errors.Is(err, archivist.ErrCronNotFound)
}
