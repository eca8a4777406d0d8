// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigure(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, RunID: "run-1"})

	l := WithComponent("writer")
	l.Info().Str("event", "test.event").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["service"] != "reportupdater" {
		t.Errorf("service = %v, want reportupdater", entry["service"])
	}
	if entry["component"] != "writer" {
		t.Errorf("component = %v, want writer", entry["component"])
	}
	if entry["run_id"] != "run-1" {
		t.Errorf("run_id = %v, want run-1", entry["run_id"])
	}
	if entry["event"] != "test.event" {
		t.Errorf("event = %v, want test.event", entry["event"])
	}

	// Reconfiguring must be a no-op: the first writer keeps receiving events.
	seen := buf.Len()
	var other bytes.Buffer
	Configure(Config{Output: &other, RunID: "run-2"})
	root := Base()
	root.Info().Msg("still here")
	if other.Len() != 0 {
		t.Errorf("second Configure replaced the writer")
	}
	if buf.Len() <= seen {
		t.Errorf("first writer did not receive the second event")
	}
}
