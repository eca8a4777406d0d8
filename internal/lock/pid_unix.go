// SPDX-License-Identifier: MIT

//go:build !windows

package lock

import (
	"errors"
	"os"
	"syscall"
)

// pidAlive probes a pid with signal 0. EPERM still means alive, just
// owned by somebody else.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false
	case errors.Is(err, syscall.EPERM):
		return true
	default:
		return true
	}
}
