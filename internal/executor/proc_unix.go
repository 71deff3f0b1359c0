//go:build !windows
// +build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// configureProcess places the command in its own process group so the whole
// tree can be killed together on timeout.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killTree terminates the command's entire process group.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the process group.
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// alive probes a pid with signal 0, the same liveness check as `kill -0`.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
