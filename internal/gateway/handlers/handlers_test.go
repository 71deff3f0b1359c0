package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"crucible/internal/executor"
	"crucible/internal/session"
	"crucible/internal/storage"
)

// setupHandlerTest creates test dependencies and a router with the
// gateway's API routes.
func setupHandlerTest(t *testing.T) (*mux.Router, *storage.RunStore) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	captureDir := t.TempDir()
	runs := storage.NewRunStore(db)
	exec := executor.New(executor.Config{
		Shell:        "sh",
		PollInterval: 20 * time.Millisecond,
		CaptureDir:   captureDir,
		DrainGrace:   5 * time.Second,
	}, runs, zerolog.Nop())
	sessions := session.NewManager(db, 16)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	health := NewHealth("test", db, captureDir, nil)
	api.HandleFunc("/health", health.Handle).Methods(http.MethodGet)

	e := NewExecute(exec, sessions)
	api.HandleFunc("/execute", e.Handle).Methods(http.MethodPost)

	rh := NewRuns(runs)
	api.HandleFunc("/runs", rh.List).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", rh.Get).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/output", rh.Output).Methods(http.MethodGet)

	sh := NewSessions(sessions)
	api.HandleFunc("/sessions", sh.Create).Methods(http.MethodPost)
	api.HandleFunc("/sessions", sh.List).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{name}", sh.Delete).Methods(http.MethodDelete)

	return router, runs
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Storage != "ok" {
		t.Errorf("storage = %q, want ok", resp.Storage)
	}
	if resp.SchemaVersion < 1 {
		t.Errorf("schema_version = %d, want >= 1", resp.SchemaVersion)
	}
	if resp.CaptureDir != "ok" {
		t.Errorf("capture_dir = %q, want ok", resp.CaptureDir)
	}
}

func TestHealthHandlerDegraded(t *testing.T) {
	h := NewHealth("test", nil, filepath.Join(t.TempDir(), "missing", "dir"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.Handle(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Storage != "disabled" {
		t.Errorf("storage = %q, want disabled", resp.Storage)
	}
	if resp.CaptureDir != "unwritable" {
		t.Errorf("capture_dir = %q, want unwritable", resp.CaptureDir)
	}
}

func TestExecuteSync(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Command: "echo hello gateway",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Output != "hello gateway\n" {
		t.Errorf("output = %q", resp.Output)
	}
	if resp.ExitCode != 0 {
		t.Errorf("exit_code = %d, want 0", resp.ExitCode)
	}
	if !resp.DrainComplete {
		t.Error("drain_complete = false, want true")
	}
	if resp.RunID == "" {
		t.Error("run_id is empty")
	}
}

func TestExecuteValidation(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/execute", ExecuteRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty command: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExecuteUnknownSession(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Command: "true",
		Session: "ghost",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestExecuteDetached(t *testing.T) {
	router, store := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Command:  "echo detached",
		Detached: true,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp DetachResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("run_id is empty")
	}

	// The background supervisor finishes the run record.
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := store.Get(resp.RunID)
		if err == nil && run.Status != "running" {
			if run.Status != "ok" {
				t.Errorf("run status = %q, want ok", run.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached run never finished")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSessionLifecycleAndRuns(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", SessionRequest{
		Name: "build",
		Env:  map[string]string{"GATE": "open"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status = %d, body = %s", w.Code, w.Body.String())
	}

	// Duplicate create conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions", SessionRequest{Name: "build"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate session: status = %d, want %d", w.Code, http.StatusConflict)
	}

	// Session env reaches the command.
	w = doJSON(t, router, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Command: "echo gate is $GATE",
		Session: "build",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("execute: status = %d, body = %s", w.Code, w.Body.String())
	}
	var exec ExecuteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &exec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if exec.Output != "gate is open\n" {
		t.Errorf("output = %q", exec.Output)
	}

	// The run shows up in history and its output is served verbatim.
	w = doJSON(t, router, http.MethodGet, "/api/v1/runs?session=build", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list runs: status = %d", w.Code)
	}
	var runs []RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].ID != exec.RunID {
		t.Errorf("run id = %q, want %q", runs[0].ID, exec.RunID)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/runs/"+exec.RunID+"/output", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run output: status = %d", w.Code)
	}
	if w.Body.String() != "gate is open\n" {
		t.Errorf("output body = %q", w.Body.String())
	}

	// Delete session, then listing still works and the name is gone.
	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/build", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete session: status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/build", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing session: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRunsNotFound(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/runs/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRunsListLimitValidation(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/runs?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
