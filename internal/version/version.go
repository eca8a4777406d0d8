// SPDX-License-Identifier: MIT

// Package version carries build information stamped in by the release
// pipeline via ldflags.
package version

var (
	// Version is the application version, falling back to the latest tag.
	Version = "1.0.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
