// Package logging manages the on-disk artifacts of a run: a per-run
// directory keyed by run ID that holds driver working directories, driver
// log files and the exported report.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// RunDirectory is the root artifact directory for a single run.
type RunDirectory struct {
	path  string
	runID string
}

// NewRunDirectory creates (if needed) the artifact directory for the given
// run ID underneath base.
func NewRunDirectory(base, runID string) (*RunDirectory, error) {
	if base == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	path := filepath.Join(base, runID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory %s: %w", path, err)
	}
	return &RunDirectory{path: path, runID: runID}, nil
}

// Path returns the run directory path.
func (d *RunDirectory) Path() string { return d.path }

// RunID returns the run identifier the directory is keyed by.
func (d *RunDirectory) RunID() string { return d.runID }

// DriverDir creates and returns the working directory for a named driver.
func (d *RunDirectory) DriverDir(name string) (string, error) {
	path := filepath.Join(d.path, "drivers", name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating driver directory %s: %w", path, err)
	}
	return path, nil
}

// ReportPath returns where the JSON report for this run is written.
func (d *RunDirectory) ReportPath() string {
	return filepath.Join(d.path, "report.json")
}
