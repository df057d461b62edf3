// Package report implements the hierarchical result tree produced by a test
// run: Report -> TestGroupReport(multitest) -> TestGroupReport(testsuite) ->
// {TestCaseReport | TestGroupReport(parametrization) -> TestCaseReport}.
//
// The tree is append-only while a run is in flight. Workers build private
// subtrees and contribute them at task completion through Merge, which is
// the only concurrency-safe mutation point; everything else assumes a single
// writer. Entry order always reflects declaration order, so report output is
// deterministic even though execution order is not.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/status"
)

// Category classifies a group node in the tree.
type Category string

const (
	CategoryMultiTest       Category = "multitest"
	CategoryTestSuite       Category = "testsuite"
	CategoryParametrization Category = "parametrization"
)

// Entry is one typed leaf record appended to a testcase by the assertion
// collaborator, e.g. {"type": "Log", "message": "..."}. The core only
// requires the "type" key; all other fields pass through untouched.
type Entry map[string]any

// Type returns the entry's kind, or an empty string when absent.
func (e Entry) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Node is one level of the result tree.
type Node interface {
	GetName() string
	// EffectiveStatus is the node's status after applying any explicit
	// override; overrides always win over computed roll-up.
	EffectiveStatus() status.Status
}

// TestCaseReport is a leaf of the tree holding the ordered assertion entries
// of one testcase execution.
type TestCaseReport struct {
	Name           string
	Description    string
	Status         status.Status
	StatusOverride status.Status
	Duration       time.Duration
	Entries        []Entry
}

// NewTestCaseReport creates an empty testcase report. Status defaults to
// PASSED until the executor records otherwise.
func NewTestCaseReport(name string) *TestCaseReport {
	return &TestCaseReport{Name: name, Status: status.Passed}
}

func (r *TestCaseReport) GetName() string { return r.Name }

// Append adds a leaf entry. Entries from the same testcase are never
// interleaved across goroutines, so no locking is needed here.
func (r *TestCaseReport) Append(e Entry) {
	r.Entries = append(r.Entries, e)
}

func (r *TestCaseReport) EffectiveStatus() status.Status {
	if r.StatusOverride != "" {
		return r.StatusOverride
	}
	return r.Status
}

// TestGroupReport is an interior node grouping testcases or further groups.
type TestGroupReport struct {
	Name           string
	Description    string
	Category       Category
	StatusOverride status.Status
	Duration       time.Duration

	mu      sync.Mutex
	entries []Node
}

// NewTestGroupReport creates an empty group of the given category.
func NewTestGroupReport(name string, category Category) *TestGroupReport {
	return &TestGroupReport{Name: name, Category: category}
}

// WithDescription sets the group description.
func (g *TestGroupReport) WithDescription(desc string) *TestGroupReport {
	g.Description = desc
	return g
}

func (g *TestGroupReport) GetName() string { return g.Name }

// Append adds a child node in declaration order.
func (g *TestGroupReport) Append(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append(g.entries, n)
}

// Entries returns the ordered child nodes.
func (g *TestGroupReport) Entries() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Node, len(g.entries))
	copy(out, g.entries)
	return out
}

// Find returns the direct child with the given name, or nil.
func (g *TestGroupReport) Find(name string) Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.entries {
		if n.GetName() == name {
			return n
		}
	}
	return nil
}

// Merge replaces the placeholder child with the same name by the finished
// node, or appends it when no placeholder exists. This is the task-boundary
// join point: the node must be fully built before Merge and must not be
// mutated afterwards.
func (g *TestGroupReport) Merge(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.entries {
		if existing.GetName() == n.GetName() {
			g.entries[i] = n
			return
		}
	}
	g.entries = append(g.entries, n)
}

// EffectiveStatus rolls up the worst child status by severity
// (ERROR > FAILED > UNSTABLE > PASSED > SKIPPED), unless the group carries
// an explicit override, which always wins. A group with no children reports
// UNKNOWN.
func (g *TestGroupReport) EffectiveStatus() status.Status {
	if g.StatusOverride != "" {
		return g.StatusOverride
	}
	g.mu.Lock()
	entries := make([]Node, len(g.entries))
	copy(entries, g.entries)
	g.mu.Unlock()

	if len(entries) == 0 {
		return status.Unknown
	}
	agg := entries[0].EffectiveStatus()
	for _, n := range entries[1:] {
		agg = agg.Worst(n.EffectiveStatus())
	}
	return agg
}

// Report is the root of the result tree for one run.
type Report struct {
	Name           string
	RunID          string
	StatusOverride status.Status
	Duration       time.Duration

	mu      sync.Mutex
	entries []*TestGroupReport
}

// NewReport creates the root report node.
func NewReport(name, runID string) *Report {
	return &Report{Name: name, RunID: runID}
}

func (r *Report) GetName() string { return r.Name }

// Append adds a top-level group (one per multitest) in declaration order.
func (r *Report) Append(g *TestGroupReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, g)
}

// Entries returns the ordered multitest groups.
func (r *Report) Entries() []*TestGroupReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TestGroupReport, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns the multitest group with the given name.
func (r *Report) Find(name string) (*TestGroupReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.entries {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, fmt.Errorf("report group %q not found", name)
}

// EffectiveStatus rolls up over the multitest groups; an explicit override
// wins.
func (r *Report) EffectiveStatus() status.Status {
	if r.StatusOverride != "" {
		return r.StatusOverride
	}
	entries := r.Entries()
	if len(entries) == 0 {
		return status.Unknown
	}
	agg := entries[0].EffectiveStatus()
	for _, g := range entries[1:] {
		agg = agg.Worst(g.EffectiveStatus())
	}
	return agg
}
