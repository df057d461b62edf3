package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// jsonNode is the serialized form shared by all tree nodes.
type jsonNode struct {
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	Status         string     `json:"status"`
	StatusOverride string     `json:"status_override,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	Entries        []any      `json:"entries"`
	RunID          string     `json:"run_id,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

func (r *TestCaseReport) MarshalJSON() ([]byte, error) {
	entries := make([]any, len(r.Entries))
	for i, e := range r.Entries {
		entries[i] = e
	}
	return json.Marshal(jsonNode{
		Name:           r.Name,
		Description:    r.Description,
		Status:         r.EffectiveStatus().String(),
		StatusOverride: string(r.StatusOverride),
		DurationMS:     r.Duration.Milliseconds(),
		Entries:        entries,
	})
}

func (g *TestGroupReport) MarshalJSON() ([]byte, error) {
	children := g.Entries()
	entries := make([]any, len(children))
	for i, n := range children {
		entries[i] = n
	}
	return json.Marshal(jsonNode{
		Name:           g.Name,
		Description:    g.Description,
		Category:       string(g.Category),
		Status:         g.EffectiveStatus().String(),
		StatusOverride: string(g.StatusOverride),
		DurationMS:     g.Duration.Milliseconds(),
		Entries:        entries,
	})
}

func (r *Report) MarshalJSON() ([]byte, error) {
	children := r.Entries()
	entries := make([]any, len(children))
	for i, g := range children {
		entries[i] = g
	}
	now := time.Now().UTC()
	return json.Marshal(jsonNode{
		Name:       r.Name,
		RunID:      r.RunID,
		Status:     r.EffectiveStatus().String(),
		DurationMS: r.Duration.Milliseconds(),
		Entries:    entries,
		Timestamp:  &now,
	})
}

// WriteJSON exports the finalized report tree to the given path, creating
// parent directories as needed. Call only after every contributing task has
// finished; the tree must be frozen.
func WriteJSON(r *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}
