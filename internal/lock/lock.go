// SPDX-License-Identifier: MIT

// Package lock guards against concurrent runs with a pid file. A leftover
// file from a crashed run is detected by probing its pid and taken over.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wikimedia/reportupdater/internal/log"
)

// ErrAlreadyRunning means the pid file belongs to a live process, or could
// not be inspected and has to be assumed live.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Acquire writes the current pid to path. It fails with ErrAlreadyRunning
// when the file exists and its pid is alive; a stale file is overwritten.
func Acquire(path string) error {
	logger := log.WithComponent("lock")

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if parseErr != nil {
			logger.Error().
				Str("event", "lock.unreadable_pid_file").
				Str("path", path).
				Msg("could not parse the pid file")
			return ErrAlreadyRunning
		}
		if pidAlive(pid) {
			return ErrAlreadyRunning
		}
		logger.Debug().
			Str("event", "lock.stale_pid_file").
			Str("path", path).
			Int("pid", pid).
			Msg("overwriting a stale pid file")
	case os.IsNotExist(err):
	case os.IsPermission(err):
		logger.Warn().
			Str("event", "lock.foreign_pid_file").
			Str("path", path).
			Msg("an instance run by another user was found")
		return ErrAlreadyRunning
	default:
		logger.Error().
			Str("event", "lock.unreadable_pid_file").
			Str("path", path).
			Err(err).
			Msg("could not open the pid file")
		return ErrAlreadyRunning
	}

	logger.Info().
		Str("event", "lock.acquired").
		Str("path", path).
		Msg("writing the pid file")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("could not write the pid file: %w", err)
	}
	return nil
}

// Release deletes the pid file. Failures are logged so other instances
// still report the situation clearly.
func Release(path string) {
	logger := log.WithComponent("lock")
	logger.Info().
		Str("event", "lock.released").
		Str("path", path).
		Msg("deleting the pid file")
	if err := os.Remove(path); err != nil {
		logger.Error().
			Str("event", "lock.release_failed").
			Str("path", path).
			Err(err).
			Msg("unable to delete the pid file")
	}
}
