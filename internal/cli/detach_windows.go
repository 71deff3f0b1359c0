//go:build windows
// +build windows

package cli

import (
	"os/exec"
	"syscall"
)

// detachProcess detaches the supervisor from this process's console so it
// survives this process's exit.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x00000008, // DETACHED_PROCESS
	}
}
