package handlers

import (
	"net/http"
	"os"
	"sync"
	"time"

	"crucible/internal/storage"
	"crucible/internal/storage/migrations"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthResponse reports gateway liveness plus the state of what a run
// depends on: the run database and the capture directory. A run started
// while either is broken would lose its record or its output, so their
// failure degrades the overall status.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        int64  `json:"uptime"`
	Storage       string `json:"storage"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	CaptureDir    string `json:"capture_dir"`
	WSClients     int    `json:"ws_clients"`
}

// Health serves the health check.
type Health struct {
	version    string
	db         *storage.DB
	captureDir string
	clients    func() int
}

// NewHealth creates the health handler. db may be nil when run history is
// disabled; clients reports connected WebSocket clients and may be nil.
func NewHealth(version string, db *storage.DB, captureDir string, clients func() int) *Health {
	return &Health{version: version, db: db, captureDir: captureDir, clients: clients}
}

// Handle serves GET /api/v1/health.
func (h *Health) Handle(w http.ResponseWriter, r *http.Request) {
	uptime := int64(0)
	if !startTime.IsZero() {
		uptime = int64(time.Since(startTime).Seconds())
	}

	resp := HealthResponse{
		Status:     "ok",
		Version:    h.version,
		Uptime:     uptime,
		Storage:    "ok",
		CaptureDir: "ok",
	}

	switch {
	case h.db == nil:
		resp.Storage = "disabled"
	case h.db.Ping() != nil:
		resp.Storage = "unreachable"
		resp.Status = "degraded"
	default:
		if v, err := migrations.Version(h.db.DB); err == nil {
			resp.SchemaVersion = v
		}
	}

	if err := checkWritable(h.captureDir); err != nil {
		resp.CaptureDir = "unwritable"
		resp.Status = "degraded"
	}

	if h.clients != nil {
		resp.WSClients = h.clients()
	}

	SendJSON(w, http.StatusOK, resp)
}

// checkWritable checks that sink files can be created in dir.
func checkWritable(dir string) error {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
