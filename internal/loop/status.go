package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StatusFileName is the ephemeral status file written next to the working
// tree while a loop runs. It is UI state for watchers, not part of the
// append-only audit trail.
const StatusFileName = ".devloop-status.json"

// Status represents the current state of a loop execution, written to a
// JSON file for `devloop --watch` to poll.
type Status struct {
	// State is "initializing", "running", "delaying" or "completed".
	State string `json:"state"`

	// Cycle is the current cycle number (1-indexed).
	Cycle int `json:"cycle"`

	// MaxLoops is the configured maximum cycle count.
	MaxLoops int `json:"max_loops"`

	// Elapsed is the time since the loop started, in nanoseconds.
	Elapsed int64 `json:"elapsed_ns"`

	// Tallies are running outcome counts.
	Tallies struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	} `json:"tallies"`

	// StopReason is set only when State is "completed".
	StopReason string `json:"stop_reason,omitempty"`
}

// StatusWriter manages writing status updates to a file.
type StatusWriter struct {
	path string
}

// NewStatusWriter creates a StatusWriter for the given working directory.
func NewStatusWriter(workdir string) *StatusWriter {
	return &StatusWriter{
		path: filepath.Join(workdir, StatusFileName),
	}
}

// Write updates the status file. Atomic: write to a temp file, then rename,
// so a polling watcher never sees a torn read.
func (w *StatusWriter) Write(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Clear removes the status file (called when the loop completes).
func (w *StatusWriter) Clear() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove status file: %w", err)
	}
	return nil
}

// ReadStatus loads the current status for a working directory. Returns
// (nil, nil) when no loop is running (file absent).
func ReadStatus(workdir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(workdir, StatusFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse status file: %w", err)
	}
	return &s, nil
}
