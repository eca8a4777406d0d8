// SPDX-License-Identifier: MIT

//go:build windows

package tsv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wikimedia/reportupdater/internal/report"
)

// WriteResults writes to a temp file in the target directory and renames
// it over the report file. Group ownership is a unix concept and is
// ignored here.
func WriteResults(path string, header []string, data map[time.Time][]report.Row, group string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create the output folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, header, data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write the output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("could not write the output file: %w", err)
	}
	return nil
}
