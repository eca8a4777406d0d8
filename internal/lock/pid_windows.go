// SPDX-License-Identifier: MIT

//go:build windows

package lock

import "os"

// pidAlive relies on FindProcess failing for pids that are not running.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}
