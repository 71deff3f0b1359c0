package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crucible/internal/config"
	"crucible/internal/executor"
	"crucible/internal/gateway/handlers"
	"crucible/internal/gateway/websocket"
	"crucible/internal/session"
	"crucible/internal/storage"
)

func setupServer(t *testing.T) *Server {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runs := storage.NewRunStore(db)
	exec := executor.New(executor.Config{
		Shell:        "sh",
		PollInterval: 20 * time.Millisecond,
		CaptureDir:   t.TempDir(),
		DrainGrace:   5 * time.Second,
	}, runs, zerolog.Nop())

	cfg := &config.Config{}
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0

	return NewServer(cfg, Deps{
		Executor: exec,
		Sessions: session.NewManager(db, 16),
		Runs:     runs,
		DB:       db,
	})
}

func TestServerRoutes(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/runs", http.StatusOK},
		{http.MethodGet, "/api/v1/sessions", http.StatusOK},
		{http.MethodGet, "/api/v1/runs/missing", http.StatusNotFound},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodPost, "/api/v1/runs", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)

		if w.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}

func TestServerHubWired(t *testing.T) {
	s := setupServer(t)
	if s.Hub() == nil {
		t.Fatal("server has no hub")
	}
}

func TestWebSocketSubscriberSeesRunCompletion(t *testing.T) {
	s := setupServer(t)
	go s.Hub().Run()

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Start a detached run that emits after a delay, leaving time to
	// subscribe before any output drains.
	body := bytes.NewBufferString(`{"command":"sleep 0.3; echo streamed","detached":true}`)
	resp, err := http.Post(ts.URL+"/api/v1/execute", "application/json", body)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var ack handlers.DetachResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if ack.RunID == "" {
		t.Fatal("run_id is empty")
	}

	sub, _ := json.Marshal(websocket.WSMessage{Type: websocket.TypeSubscribe, Run: ack.RunID})
	if err := conn.WriteMessage(gorillaws.TextMessage, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawOutput := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read before completion message: %v", err)
		}
		var msg websocket.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", data, err)
		}
		if msg.Run != ack.RunID {
			continue
		}
		if msg.Type == websocket.TypeOutput && strings.Contains(msg.Data, "streamed") {
			sawOutput = true
		}
		if msg.Type == websocket.TypeDone {
			break
		}
	}
	if !sawOutput {
		t.Error("no output chunk arrived before the completion message")
	}
}
