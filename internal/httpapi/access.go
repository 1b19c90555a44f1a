package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

func (s *Server) handleAccessRequest(w http.ResponseWriter, r *http.Request) {
	pb := isProtobuf(r)

	var (
		req types.AccessRequest
		err error
	)
	if pb {
		req, err = readProtoAccessRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", err.Error())
			return
		}
	} else if err = decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.coordinator.PresentTag(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if pb {
		writeProtoAccessResponse(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req types.ExitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	ev, err := s.coordinator.RecordExit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleManualOpen(w http.ResponseWriter, r *http.Request) {
	var req types.ManualOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.coordinator.ManualOpen(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDoorStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.DoorStatus())
}

type occupancyResponse struct {
	Count     int                 `json:"count"`
	Occupants []types.AccessEvent `json:"occupants"`
}

func (s *Server) handleOccupancy(w http.ResponseWriter, _ *http.Request) {
	occ := s.coordinator.Occupants()
	writeJSON(w, http.StatusOK, occupancyResponse{Count: len(occ), Occupants: occ})
}

type personOccupancyResponse struct {
	PersonID string             `json:"person_id"`
	Inside   bool               `json:"inside"`
	Entry    *types.AccessEvent `json:"entry,omitempty"`
}

func (s *Server) handlePersonOccupancy(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "personID"))
	resp := personOccupancyResponse{PersonID: id}
	for _, ev := range s.coordinator.Occupants() {
		if ev.PersonID == id {
			ev := ev
			resp.Inside = true
			resp.Entry = &ev
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := eventFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	evs, err := s.coordinator.ListEvents(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if evs == nil {
		evs = []types.AccessEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period := types.Period(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period"))))
	st, err := s.coordinator.Stats(r.Context(), period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
