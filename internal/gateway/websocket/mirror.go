package websocket

import (
	"encoding/json"
	"io"
)

// RunMirror is an io.Writer that broadcasts capture output chunks to a
// run's subscribers as they drain through the relay. Writes never fail:
// mirroring is best-effort and must not disturb the capture path.
type RunMirror struct {
	hub *Hub
	run string
}

// NewRunMirror creates a mirror writer for one run.
func NewRunMirror(hub *Hub, run string) *RunMirror {
	return &RunMirror{hub: hub, run: run}
}

// Write broadcasts one output chunk.
func (m *RunMirror) Write(p []byte) (int, error) {
	data, err := json.Marshal(WSMessage{
		Type: TypeOutput,
		Run:  m.run,
		Data: string(p),
	})
	if err == nil {
		m.hub.Broadcast(m.run, data)
	}
	return len(p), nil
}

// Done broadcasts the end-of-run marker to the run's subscribers. The
// executor calls it once the run's observation is assembled.
func (m *RunMirror) Done() {
	data, _ := json.Marshal(WSMessage{Type: TypeDone, Run: m.run})
	m.hub.Broadcast(m.run, data)
}

// MirrorFactory returns a factory producing a RunMirror per run, suitable
// for wiring into the executor.
func MirrorFactory(hub *Hub) func(run string) io.Writer {
	return func(run string) io.Writer {
		return NewRunMirror(hub, run)
	}
}
