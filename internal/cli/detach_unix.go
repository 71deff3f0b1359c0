//go:build !windows
// +build !windows

package cli

import (
	"os/exec"
	"syscall"
)

// detachProcess places the supervisor in its own session so it survives
// this process's exit and any terminal hangup.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
