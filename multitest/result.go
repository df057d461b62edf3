package multitest

import (
	"fmt"
	"reflect"

	"github.com/ethereum-optimism/infra/op-harness/report"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

// Result records the outcome of one testcase body. It appends typed entries
// to the testcase's report node and tracks the worst assertion outcome.
// A Result belongs to exactly one executing testcase and is not safe for
// concurrent use.
type Result struct {
	node   *report.TestCaseReport
	params []Param
}

func newResult(node *report.TestCaseReport, params []Param) *Result {
	return &Result{node: node, params: params}
}

// Param returns the named parameter of this instantiation, or nil for
// non-parametrized testcases and unknown names.
func (r *Result) Param(name string) any {
	for _, p := range r.params {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

func (r *Result) fail() {
	// SKIPPED is sticky too: assertions after Skip are recorded but the
	// testcase stays skipped.
	if r.node.Status != status.Skipped {
		r.node.Status = status.Failed
	}
}

// Log records a freeform message entry without affecting status.
func (r *Result) Log(format string, args ...any) {
	r.node.Append(report.Entry{
		"type":    "Log",
		"message": fmt.Sprintf(format, args...),
	})
}

// Equal asserts deep equality of actual and expected.
func (r *Result) Equal(expected, actual any, description string) bool {
	passed := reflect.DeepEqual(expected, actual)
	r.node.Append(report.Entry{
		"type":        "Equal",
		"description": description,
		"expected":    fmt.Sprintf("%v", expected),
		"actual":      fmt.Sprintf("%v", actual),
		"passed":      passed,
	})
	if !passed {
		r.fail()
	}
	return passed
}

// True asserts that value holds.
func (r *Result) True(value bool, description string) bool {
	r.node.Append(report.Entry{
		"type":        "True",
		"description": description,
		"passed":      value,
	})
	if !value {
		r.fail()
	}
	return value
}

// Fail records an unconditional failure.
func (r *Result) Fail(description string) {
	r.node.Append(report.Entry{
		"type":        "Fail",
		"description": description,
		"passed":      false,
	})
	r.fail()
}

// Error records an execution error, escalating the testcase beyond a plain
// assertion failure.
func (r *Result) Error(err error) {
	r.node.Append(report.Entry{
		"type":    "Error",
		"message": err.Error(),
		"passed":  false,
	})
	r.node.Status = status.Error
}

// Skip marks the testcase skipped with a reason.
func (r *Result) Skip(reason string) {
	r.node.Append(report.Entry{
		"type":   "Skip",
		"reason": reason,
	})
	r.node.Status = status.Skipped
}

// Passed reports whether no failing assertion has been recorded yet.
func (r *Result) Passed() bool {
	return r.node.Status == status.Passed
}
