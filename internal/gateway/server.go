// Package gateway provides the HTTP gateway server: command execution,
// run history, session management, and live output streaming.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"crucible/internal/config"
	"crucible/internal/executor"
	"crucible/internal/gateway/handlers"
	"crucible/internal/gateway/middleware"
	"crucible/internal/gateway/websocket"
	"crucible/internal/session"
	"crucible/internal/storage"
	"crucible/pkg/logger"
)

// Version is stamped at build time.
var Version = "dev"

// Deps carries the server's collaborators.
type Deps struct {
	Executor *executor.Executor
	Sessions *session.Manager
	Runs     *storage.RunStore
	DB       *storage.DB
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *websocket.Hub
	watcher    *Watcher
	config     *config.Config
	deps       Deps
}

// NewServer creates a new gateway server. The executor's mirror factory is
// wired to the WebSocket hub so that subscribers see capture output live.
func NewServer(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()
	hub := websocket.NewHub()

	if deps.Executor != nil {
		deps.Executor.SetMirrorFactory(websocket.MirrorFactory(hub))
	}

	// Middleware chain: Recovery -> Logging
	handler := middleware.Recovery(middleware.Logging(router))

	s := &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // Long-running sync executions stream on their own clock
			IdleTimeout:  120 * time.Second,
		},
		router: router,
		hub:    hub,
		config: cfg,
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the server routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	captureDir, err := config.ExpandPath(s.config.Capture.Dir)
	if err != nil {
		captureDir = s.config.Capture.Dir
	}
	health := handlers.NewHealth(Version, s.deps.DB, captureDir, s.hub.ClientCount)
	api.HandleFunc("/health", health.Handle).Methods(http.MethodGet)

	exec := handlers.NewExecute(s.deps.Executor, s.deps.Sessions)
	api.HandleFunc("/execute", exec.Handle).Methods(http.MethodPost)

	runs := handlers.NewRuns(s.deps.Runs)
	api.HandleFunc("/runs", runs.List).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", runs.Get).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/output", runs.Output).Methods(http.MethodGet)

	sessions := handlers.NewSessions(s.deps.Sessions)
	api.HandleFunc("/sessions", sessions.Create).Methods(http.MethodPost)
	api.HandleFunc("/sessions", sessions.List).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{name}", sessions.Delete).Methods(http.MethodDelete)

	// WebSocket endpoint for live output streaming
	s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.hub, w, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.httpServer.Addr = addr

	go s.hub.Run()

	logger.Info().
		Str("addr", addr).
		Msg("Starting gateway server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")

	if s.watcher != nil {
		s.watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// SetWatcher sets the file watcher for config hot reload.
func (s *Server) SetWatcher(w *Watcher) {
	s.watcher = w
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}
