//go:build windows
// +build windows

package executor

import (
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {
	// No process groups on Windows; the direct process is killed on timeout.
}

func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
