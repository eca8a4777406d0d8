// SPDX-License-Identifier: MIT

// Package procgroup runs report scripts in their own process group, so
// that cancelling a run takes the script's helper processes down with it.
package procgroup

import "os/exec"

// Set makes the command start as a process group leader. It must be called
// before the command starts.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill terminates the command's whole process group. It is a no-op when
// the process has not started or has already exited.
func Kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return kill(cmd.Process.Pid)
}
