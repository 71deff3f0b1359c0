package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"crucible/internal/executor"
	"crucible/internal/session"
	"crucible/pkg/logger"
)

// ExecuteRequest is the body of POST /api/v1/execute.
type ExecuteRequest struct {
	Command string            `json:"command"`
	Session string            `json:"session,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
	// TimeoutSeconds bounds the command; zero uses the executor default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// Detached returns immediately with the run ID; stream output over the
	// WebSocket and fetch the final result from the run history.
	Detached bool `json:"detached,omitempty"`
}

// ExecuteResponse is the synchronous execution result.
type ExecuteResponse struct {
	RunID         string `json:"run_id"`
	ExitCode      int    `json:"exit_code"`
	Output        string `json:"output"`
	DrainComplete bool   `json:"drain_complete"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
}

// DetachResponse is the detached execution acknowledgement.
type DetachResponse struct {
	RunID string `json:"run_id"`
	PID   int    `json:"pid"`
}

// Execute handles command execution requests.
type Execute struct {
	exec     *executor.Executor
	sessions *session.Manager
}

// NewExecute creates the execute handler. sessions may be nil.
func NewExecute(exec *executor.Executor, sessions *session.Manager) *Execute {
	return &Execute{exec: exec, sessions: sessions}
}

// Handle serves POST /api/v1/execute.
func (h *Execute) Handle(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Command == "" {
		SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}

	req := executor.Request{
		Command: body.Command,
		Session: body.Session,
		Workdir: body.Workdir,
		Timeout: time.Duration(body.TimeoutSeconds) * time.Second,
		Mode:    executor.ModeSync,
	}
	if body.Detached {
		req.Mode = executor.ModeDetached
	}

	env, err := h.resolveEnv(&req, body.Env)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			SendError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("session %q not found", body.Session))
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	req.Env = env

	handle, err := h.exec.Detach(r.Context(), req)
	if err != nil {
		if errors.Is(err, executor.ErrEmptyCommand) {
			SendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if body.Detached {
		SendJSON(w, http.StatusAccepted, DetachResponse{RunID: handle.RunID, PID: handle.PID()})
		// Supervision continues past this request's lifetime, so it must
		// not inherit the request context.
		go func() {
			if _, err := handle.Wait(context.Background()); err != nil {
				logger.Warn().Err(err).Str("run_id", handle.RunID).Msg("detached run failed")
			}
		}()
		return
	}

	obs, err := handle.Wait(r.Context())
	if err != nil {
		SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	SendJSON(w, http.StatusOK, observationResponse(obs))
}

// resolveEnv merges the named session's environment with the request's.
// Request entries win.
func (h *Execute) resolveEnv(req *executor.Request, extra map[string]string) ([]string, error) {
	merged := map[string]string{}
	if req.Session != "" && h.sessions != nil {
		sess, err := h.sessions.Get(req.Session)
		if err != nil {
			return nil, err
		}
		for k, v := range sess.Env {
			merged[k] = v
		}
		if req.Workdir == "" {
			req.Workdir = sess.Workdir
		}
		if err := h.sessions.Touch(req.Session); err != nil {
			logger.Warn().Err(err).Str("session", req.Session).Msg("touch session failed")
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil, nil
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}

func observationResponse(obs *executor.Observation) ExecuteResponse {
	return ExecuteResponse{
		RunID:         obs.RunID,
		ExitCode:      obs.ExitCode,
		Output:        string(obs.Output),
		DrainComplete: obs.DrainComplete,
		Status:        string(obs.Status),
		StartedAt:     obs.StartedAt.Format(time.RFC3339Nano),
		FinishedAt:    obs.FinishedAt.Format(time.RFC3339Nano),
	}
}
