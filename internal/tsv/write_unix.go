// SPDX-License-Identifier: MIT

//go:build !windows

package tsv

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/renameio/v2"

	"github.com/wikimedia/reportupdater/internal/log"
	"github.com/wikimedia/reportupdater/internal/report"
)

// WriteResults replaces the report file atomically: readers see either the
// previous contents or the new ones, never a partial file. When group is
// set, the file is handed to that group before the swap and kept
// group-readable only.
func WriteResults(path string, header []string, data map[time.Time][]report.Row, group string) error {
	logger := log.WithComponent("tsv")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create the output folder: %w", err)
	}

	perm := os.FileMode(0o644)
	if group != "" {
		perm = 0o640
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	defer func() {
		if err := pf.Cleanup(); err != nil {
			logger.Debug().
				Str("event", "tsv.cleanup_failed").
				Str("path", path).
				Err(err).
				Msg("temp file cleanup failed")
		}
	}()

	if err := encode(pf, header, data); err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	if group != "" {
		if err := chownGroup(pf.Name(), group); err != nil {
			logger.Warn().
				Str("event", "tsv.chown_failed").
				Str("path", path).
				Str("group", group).
				Err(err).
				Msg("could not change the output file group")
		}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	return nil
}

func chownGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("group %s has a non-numeric gid %q", group, g.Gid)
	}
	return os.Chown(path, -1, gid)
}
