//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return Kill(cmd) }
}

// Kill sends SIGKILL to every process in the commands process group.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	// Negative PID signals the whole group
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
