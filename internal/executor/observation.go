package executor

import "time"

// Status classifies how an execution concluded.
type Status string

const (
	// StatusOK: command exited and drainage was confirmed.
	StatusOK Status = "ok"
	// StatusTimeout: the command did not exit within its timeout and was
	// killed; output is whatever had drained.
	StatusTimeout Status = "timeout"
	// StatusDrainIncomplete: the command exited but the capture channel did
	// not confirm drainage within the grace period. Output is partial.
	StatusDrainIncomplete Status = "drain-incomplete"
)

// Observation is the final result of an execution. It is assembled only
// after drain confirmation succeeds or explicitly times out, and its Output
// always comes from the durable sink, never a live stream snapshot.
type Observation struct {
	RunID         string    `json:"run_id"`
	ExitCode      int       `json:"exit_code"`
	Output        []byte    `json:"output"`
	DrainComplete bool      `json:"drain_complete"`
	Status        Status    `json:"status"`
	SinkPath      string    `json:"sink_path"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Complete reports whether the observation represents a full capture of a
// normally exited command.
func (o *Observation) Complete() bool {
	return o.Status == StatusOK && o.DrainComplete
}
