package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"crucible/internal/storage"
)

const defaultRunListLimit = 50

// RunResponse is one run history record on the wire.
type RunResponse struct {
	ID            string `json:"id"`
	Command       string `json:"command"`
	Session       string `json:"session,omitempty"`
	Mode          string `json:"mode"`
	Status        string `json:"status"`
	ExitCode      int    `json:"exit_code"`
	DrainComplete bool   `json:"drain_complete"`
	OutputBytes   int64  `json:"output_bytes"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

// Runs serves run history.
type Runs struct {
	store *storage.RunStore
}

// NewRuns creates the runs handler.
func NewRuns(store *storage.RunStore) *Runs {
	return &Runs{store: store}
}

// List serves GET /api/v1/runs. Supports ?limit= and ?session=.
func (h *Runs) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		runs []*storage.Run
		err  error
	)
	if sess := r.URL.Query().Get("session"); sess != "" {
		runs, err = h.store.ListBySession(sess, limit)
	} else {
		runs, err = h.store.List(limit)
	}
	if err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}
	SendJSON(w, http.StatusOK, out)
}

// Get serves GET /api/v1/runs/{id}.
func (h *Runs) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	SendJSON(w, http.StatusOK, runResponse(run))
}

// Output serves GET /api/v1/runs/{id}/output: the run's durable capture
// log, byte for byte.
func (h *Runs) Output(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if run.OutputPath == "" {
		SendError(w, http.StatusNotFound, ErrCodeNotFound, "run has no recorded output")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, run.OutputPath)
}

func (h *Runs) lookup(w http.ResponseWriter, r *http.Request) (*storage.Run, bool) {
	id := mux.Vars(r)["id"]
	run, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, "run not found")
		} else {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		}
		return nil, false
	}
	return run, true
}

func runResponse(run *storage.Run) RunResponse {
	resp := RunResponse{
		ID:            run.ID,
		Command:       run.Command,
		Session:       run.Session,
		Mode:          run.Mode,
		Status:        run.Status,
		ExitCode:      run.ExitCode,
		DrainComplete: run.DrainComplete,
		OutputBytes:   run.OutputBytes,
		StartedAt:     run.StartedAt.Format(time.RFC3339Nano),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339Nano)
	}
	return resp
}
