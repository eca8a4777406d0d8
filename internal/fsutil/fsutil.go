// SPDX-License-Identifier: MIT

// Package fsutil confines config-driven relative paths. Query repositories
// name their SQL templates, scripts and lookup files relative to the query
// folder; none of those may resolve outside it, not via .. segments and not
// via symlinks.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Confine joins folder and name and verifies that the result stays
// underneath folder once symlinks are resolved. It returns the resolved
// path. The name must be relative; it does not have to exist yet.
func Confine(folder, name string) (string, error) {
	if strings.Contains(name, "\\") {
		return "", fmt.Errorf("path contains a backslash: %s", name)
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("path is not relative: %s", name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the folder: %s", name)
	}

	root, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("invalid folder: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	path, err := resolve(filepath.Join(root, clean))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the folder: %s", name)
	}
	return path, nil
}

// resolve follows symlinks for the path or, when it does not exist yet, for
// its closest existing parent.
func resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}
