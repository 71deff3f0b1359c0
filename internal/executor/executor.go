// Package executor runs shell commands through the asynchronous output
// capture channel. An execution's result is assembled only after the
// capture relay confirms drainage; process exit alone never produces an
// Observation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crucible/internal/capture"
	"crucible/internal/storage"
)

// ErrEmptyCommand is returned for a request with no command text.
var ErrEmptyCommand = errors.New("executor: empty command")

// Config holds executor configuration.
type Config struct {
	Shell          string
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	CaptureDir     string
	DrainGrace     time.Duration
}

// MirrorFactory returns a live mirror writer for a run, or nil for none.
// Mirror output is advisory: the durable sink stays authoritative.
type MirrorFactory func(runID string) io.Writer

// Executor executes requests and records their runs.
type Executor struct {
	cfg     Config
	store   *storage.RunStore
	mirrors MirrorFactory
	logger  zerolog.Logger
}

// New creates an executor. store may be nil to disable run history.
func New(cfg Config, store *storage.RunStore, logger zerolog.Logger) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 5 * time.Second
	}
	if cfg.CaptureDir == "" {
		cfg.CaptureDir = os.TempDir()
	}
	return &Executor{cfg: cfg, store: store, logger: logger}
}

// SetMirrorFactory installs a live-output mirror source, e.g. a WebSocket
// broadcaster. Must be set before executions start.
func (e *Executor) SetMirrorFactory(f MirrorFactory) {
	e.mirrors = f
}

// Execute runs a request to completion. For detached requests it starts the
// command and then waits, so the call still blocks; use Detach directly for
// a handle.
func (e *Executor) Execute(ctx context.Context, req Request) (*Observation, error) {
	h, err := e.Detach(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Detach starts a request and returns its execution handle without waiting
// for completion.
func (e *Executor) Detach(ctx context.Context, req Request) (*Execution, error) {
	if req.Command == "" {
		return nil, ErrEmptyCommand
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	sink, err := capture.NewSink(e.cfg.CaptureDir, runID+".log")
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}

	var mirror io.Writer
	if e.mirrors != nil {
		mirror = e.mirrors(runID)
	}
	relay, err := capture.NewRelay(sink, mirror)
	if err != nil {
		sink.Finalize()
		return nil, fmt.Errorf("create relay: %w", err)
	}

	cmd := exec.Command(e.cfg.Shell, "-c", req.Command)
	cmd.Stdout = relay.WriteEnd()
	cmd.Stderr = relay.WriteEnd()
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}
	configureProcess(cmd)

	h := &Execution{
		RunID:     runID,
		req:       req,
		timeout:   timeout,
		cmd:       cmd,
		sink:      sink,
		relay:     relay,
		mirror:    mirror,
		startedAt: time.Now().UTC(),
		waitCh:    make(chan struct{}),
		exec:      e,
	}

	if err := cmd.Start(); err != nil {
		relay.CloseWrite()
		sink.Finalize()
		return nil, fmt.Errorf("start command: %w", err)
	}

	if e.store != nil {
		rec := &storage.Run{
			ID:        runID,
			Command:   req.Command,
			Session:   req.Session,
			Mode:      string(modeOrDefault(req.Mode)),
			StartedAt: h.startedAt,
		}
		if err := e.store.Start(rec); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("record run start failed")
		}
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitCh)
	}()

	e.logger.Debug().
		Str("run_id", runID).
		Str("session", req.Session).
		Dur("timeout", timeout).
		Msg("execution started")

	return h, nil
}

func modeOrDefault(m Mode) Mode {
	if m == "" {
		return ModeSync
	}
	return m
}

// Execution is a handle to a started command. Its observation is produced
// exactly once, gated on drain confirmation.
type Execution struct {
	RunID string

	req       Request
	timeout   time.Duration
	cmd       *exec.Cmd
	sink      *capture.Sink
	relay     *capture.Relay
	mirror    io.Writer
	startedAt time.Time

	waitCh  chan struct{}
	waitErr error

	exec *Executor

	finishOnce sync.Once
	obs        *Observation
	obsErr     error
}

// PID returns the process ID of the started command.
func (h *Execution) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Alive probes the command for liveness (the `kill -0` check).
func (h *Execution) Alive() bool {
	select {
	case <-h.waitCh:
		return false
	default:
	}
	return alive(h.PID())
}

// Wait blocks until the command exits or its timeout elapses, polling at
// the configured interval, then confirms drainage and assembles the
// Observation. It is safe to call multiple times; later calls return the
// same result.
func (h *Execution) Wait(ctx context.Context) (*Observation, error) {
	h.finishOnce.Do(func() {
		h.obs, h.obsErr = h.superviseAndFinish(ctx)
	})
	return h.obs, h.obsErr
}

func (h *Execution) superviseAndFinish(ctx context.Context) (*Observation, error) {
	deadline := h.startedAt.Add(h.timeout)
	ticker := time.NewTicker(h.exec.cfg.PollInterval)
	defer ticker.Stop()

	timedOut := false

poll:
	for {
		select {
		case <-h.waitCh:
			break poll
		case <-ctx.Done():
			timedOut = true
			break poll
		case <-ticker.C:
			if time.Now().After(deadline) {
				timedOut = true
				break poll
			}
		}
	}

	if timedOut {
		h.exec.logger.Warn().
			Str("run_id", h.RunID).
			Dur("timeout", h.timeout).
			Msg("execution timeout, killing process tree")
		killTree(h.cmd)
		<-h.waitCh
	}

	return h.finish(timedOut)
}

// finish enforces the capture ordering: exit observed, write end closed,
// drainage confirmed (or its grace period expired), sink finalized, and
// only then is the result read back from the durable sink.
func (h *Execution) finish(timedOut bool) (*Observation, error) {
	defer h.notifyMirrorDone()

	h.relay.CloseWrite()

	drainCtx, cancel := context.WithTimeout(context.Background(), h.exec.cfg.DrainGrace)
	defer cancel()
	drainErr := h.relay.Drain(drainCtx)

	finalizeErr := h.sink.Finalize()

	finishedAt := time.Now().UTC()

	if h.relay.SinkFailed() || h.sink.Err() != nil {
		// The durable log is unreliable; abort rather than fabricate a
		// partial-success observation.
		h.recordFinish("error", exitCode(h.cmd, h.waitErr), false, finishedAt)
		err := h.sink.Err()
		if err == nil {
			err = h.relay.Err()
		}
		return nil, fmt.Errorf("run %s: %w", h.RunID, err)
	}
	if finalizeErr != nil {
		h.recordFinish("error", exitCode(h.cmd, h.waitErr), false, finishedAt)
		return nil, fmt.Errorf("run %s: finalize sink: %w", h.RunID, finalizeErr)
	}

	output, err := h.sink.Contents()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", h.RunID, err)
	}

	drainComplete := drainErr == nil
	status := StatusOK
	switch {
	case timedOut:
		status = StatusTimeout
	case !drainComplete:
		status = StatusDrainIncomplete
	}

	obs := &Observation{
		RunID:         h.RunID,
		ExitCode:      exitCode(h.cmd, h.waitErr),
		Output:        output,
		DrainComplete: drainComplete,
		Status:        status,
		SinkPath:      h.sink.Path(),
		StartedAt:     h.startedAt,
		FinishedAt:    finishedAt,
	}

	h.recordFinish(string(status), obs.ExitCode, drainComplete, finishedAt)

	if !drainComplete {
		h.exec.logger.Warn().
			Str("run_id", h.RunID).
			Int64("drained_bytes", h.sink.Size()).
			Msg("drain confirmation timed out, output is partial")
	}

	return obs, nil
}

func (h *Execution) recordFinish(status string, exitCode int, drainComplete bool, finishedAt time.Time) {
	if h.exec.store == nil {
		return
	}
	rec := &storage.Run{
		ID:            h.RunID,
		Status:        status,
		ExitCode:      exitCode,
		DrainComplete: drainComplete,
		OutputPath:    h.sink.Path(),
		OutputBytes:   h.sink.Size(),
		FinishedAt:    &finishedAt,
	}
	if err := h.exec.store.Finish(rec); err != nil {
		h.exec.logger.Error().Err(err).Str("run_id", h.RunID).Msg("record run finish failed")
	}
}

// notifyMirrorDone tells a completion-aware mirror that the run has ended,
// so live subscribers get an end-of-run signal after the output chunks.
func (h *Execution) notifyMirrorDone() {
	if d, ok := h.mirror.(interface{ Done() }); ok {
		d.Done()
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
