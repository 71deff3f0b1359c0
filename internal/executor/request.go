package executor

import "time"

// Mode selects how an execution is supervised.
type Mode string

const (
	// ModeSync runs the command and blocks until exit and drain confirmation.
	ModeSync Mode = "sync"
	// ModeDetached starts the command in its own process group and returns
	// a handle; the caller polls for liveness or waits with a timeout.
	ModeDetached Mode = "detached"
)

// Request describes one command execution. It is immutable once submitted.
type Request struct {
	// RunID pre-assigns the run identifier, letting a caller name the run
	// before it starts (the detached CLI supervisor does this so the parent
	// can print the ID it will poll for). Empty means the executor
	// generates one.
	RunID string
	// Command is the shell command text, run via the configured shell.
	Command string
	// Session names the session this execution runs under; informational
	// here, resolved to Env/Workdir by the caller.
	Session string
	// Env is the environment for the command, appended to the parent
	// environment.
	Env []string
	// Workdir is the working directory; empty means inherit.
	Workdir string
	// Mode selects synchronous or detached supervision.
	Mode Mode
	// Timeout bounds the command's own lifetime. Zero means the executor
	// default. The drain grace period is configured separately.
	Timeout time.Duration
}
