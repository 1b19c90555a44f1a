package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/PRsofteng/start-control-access/internal/portunus/door"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/store"
)

// maxRequestBody caps JSON and protobuf request bodies. The largest
// body is a person record well under 1 KiB.
const maxRequestBody = 16 << 10

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeServiceError maps domain errors to HTTP statuses. Anything
// unrecognized is logged and reported as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTagUID):
		writeError(w, http.StatusBadRequest, "invalid_tag_uid", err.Error())
	case errors.Is(err, service.ErrInvalidPerson):
		writeError(w, http.StatusBadRequest, "invalid_person", err.Error())
	case errors.Is(err, service.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, door.ErrDoorBusy):
		writeError(w, http.StatusConflict, "door_busy", err.Error())
	case errors.Is(err, service.ErrNotInside):
		writeError(w, http.StatusConflict, "not_inside", err.Error())
	case errors.Is(err, service.ErrPersistence):
		s.logger.Error("persistence failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "persistence_failure", "access event could not be logged")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
