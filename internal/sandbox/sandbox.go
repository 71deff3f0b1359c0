// Package sandbox provides an isolated execution context for commands:
// session creation, file upload, and command execution through the capture
// channel. The interface is the seam for remote backends; the local
// backend runs commands in a dedicated directory tree.
package sandbox

import (
	"context"
	"errors"
	"time"

	"crucible/internal/executor"
)

// ErrOutsideRoot is returned when a sandbox path escapes the sandbox root.
var ErrOutsideRoot = errors.New("sandbox: path outside sandbox root")

// ErrClosed is returned when operating on a closed sandbox.
var ErrClosed = errors.New("sandbox: closed")

// RunOpts configures one sandbox command execution.
type RunOpts struct {
	// Session names a previously created session; empty runs without one.
	Session string
	// Timeout bounds the command; zero uses the executor default.
	Timeout time.Duration
}

// Sandbox abstracts command execution in an isolated environment.
type Sandbox interface {
	// ID returns the sandbox identifier.
	ID() string
	// Run executes a command and blocks until its observation is final.
	Run(ctx context.Context, command string, opts RunOpts) (*executor.Observation, error)
	// Detach starts a command and returns its execution handle.
	Detach(ctx context.Context, command string, opts RunOpts) (*executor.Execution, error)
	// CreateSession creates a named session with environment variables and
	// a working directory (sandbox-relative).
	CreateSession(name string, env map[string]string, workdir string) error
	// UploadFile copies a local file to a sandbox-relative path.
	UploadFile(localPath, sandboxPath string) error
	// UploadDir copies a local directory tree to a sandbox-relative path
	// via a tar.gz round trip.
	UploadDir(localDir, sandboxDir string) error
	// Close releases sandbox resources. The root directory is kept for
	// inspection; retention handles cleanup.
	Close() error
}
