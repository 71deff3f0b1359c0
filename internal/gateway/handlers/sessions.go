package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"crucible/internal/session"
)

// SessionRequest is the body of POST /api/v1/sessions.
type SessionRequest struct {
	Name    string            `json:"name"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
}

// SessionResponse is one session on the wire.
type SessionResponse struct {
	Name       string            `json:"name"`
	Env        map[string]string `json:"env,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	CreatedAt  string            `json:"created_at"`
	LastUsedAt string            `json:"last_used_at"`
}

// Sessions serves session management.
type Sessions struct {
	manager *session.Manager
}

// NewSessions creates the sessions handler.
func NewSessions(manager *session.Manager) *Sessions {
	return &Sessions{manager: manager}
}

// Create serves POST /api/v1/sessions.
func (h *Sessions) Create(w http.ResponseWriter, r *http.Request) {
	var body SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Name == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name is required")
		return
	}

	s, err := h.manager.Create(body.Name, body.Env, body.Workdir)
	if err != nil {
		if errors.Is(err, session.ErrExists) {
			SendError(w, http.StatusConflict, ErrCodeConflict, "session already exists")
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	SendJSON(w, http.StatusCreated, sessionResponse(s))
}

// List serves GET /api/v1/sessions.
func (h *Sessions) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.List()
	if err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse(s))
	}
	SendJSON(w, http.StatusOK, out)
}

// Delete serves DELETE /api/v1/sessions/{name}.
func (h *Sessions) Delete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.manager.Delete(name); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		Name:       s.Name,
		Env:        s.Env,
		Workdir:    s.Workdir,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		LastUsedAt: s.LastUsedAt.Format(time.RFC3339),
	}
}
