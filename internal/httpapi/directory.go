package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PRsofteng/start-control-access/internal/portunus/service"
	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

func (s *Server) personRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleListPersons)
	r.Post("/", s.handleCreatePerson)
	r.Get("/{id}", s.handleGetPerson)
	r.Post("/{id}/active", s.handleSetPersonActive)
	r.Post("/{id}/validity", s.handleExtendValidity)
	return r
}

func (s *Server) tagRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", s.handleListTags)
	r.Post("/", s.handleCreateTag)
	r.Get("/{uid}", s.handleGetTag)
	r.Post("/{uid}/assign", s.handleAssignTag)
	r.Post("/{uid}/unassign", s.handleUnassignTag)
	r.Post("/{uid}/blocked", s.handleSetTagBlocked)
	return r
}

// ── Persons ──────────────────────────────────────────────────────────────────

func (s *Server) handleListPersons(w http.ResponseWriter, r *http.Request) {
	ps, err := s.directory.ListPersons(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if ps == nil {
		ps = []types.Person{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"persons": ps})
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var in service.PersonInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	p, err := s.directory.CreatePerson(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	p, err := s.directory.GetPerson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetPersonActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, "bad_json", `body must be {"active": true|false}`)
		return
	}
	p, err := s.directory.SetPersonActive(r.Context(), chi.URLParam(r, "id"), *body.Active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleExtendValidity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ValidUntil time.Time `json:"valid_until"`
	}
	if err := decodeJSON(r, &body); err != nil || body.ValidUntil.IsZero() {
		writeError(w, http.StatusBadRequest, "bad_json", `body must be {"valid_until": "<RFC 3339>"}`)
		return
	}
	p, err := s.directory.ExtendValidity(r.Context(), chi.URLParam(r, "id"), body.ValidUntil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ── Tags ─────────────────────────────────────────────────────────────────────

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	ts, err := s.directory.ListTags(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if ts == nil {
		ts = []types.Tag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": ts})
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var in service.TagInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	t, err := s.directory.CreateTag(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	uid, err := parseTagUID(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	t, err := s.directory.GetTag(r.Context(), uid)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAssignTag(w http.ResponseWriter, r *http.Request) {
	uid, err := parseTagUID(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body struct {
		PersonID string `json:"person_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	t, err := s.directory.AssignTag(r.Context(), uid, body.PersonID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUnassignTag(w http.ResponseWriter, r *http.Request) {
	uid, err := parseTagUID(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	t, err := s.directory.UnassignTag(r.Context(), uid)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSetTagBlocked(w http.ResponseWriter, r *http.Request) {
	uid, err := parseTagUID(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body struct {
		Blocked *bool `json:"blocked"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Blocked == nil {
		writeError(w, http.StatusBadRequest, "bad_json", `body must be {"blocked": true|false}`)
		return
	}
	t, err := s.directory.SetTagBlocked(r.Context(), uid, *body.Blocked)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
