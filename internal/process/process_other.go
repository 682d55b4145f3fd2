//go:build windows

package process

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}

// Kill terminates the process started by the command.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	return cmd.Process.Kill()
}
