package harness

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-harness/report"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

// printResultsTable prints the outcome of a run to the console.
func (h *Harness) printResultsTable(result *RunResult) {
	h.config.Log.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Plan Results (%s)", formatDuration(result.Duration)))

	// Configure columns
	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})

	// Set column configurations for better readability
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, mtGroup := range result.Report.Entries() {
		appendGroupRow(t, "MultiTest", mtGroup.Name, mtGroup)

		suites := mtGroup.Entries()
		for _, node := range suites {
			suite, ok := node.(*report.TestGroupReport)
			if !ok {
				// Environment failures surface as direct testcase children.
				appendCaseRow(t, fmt.Sprintf("├── %s", node.GetName()), node)
				continue
			}
			appendGroupRow(t, "Suite", fmt.Sprintf("├── %s", suite.Name), suite)

			cases := suite.Entries()
			for i, child := range cases {
				prefix := "│   ├──"
				if i == len(cases)-1 {
					prefix = "│   └──"
				}
				switch n := child.(type) {
				case *report.TestGroupReport:
					// Parametrization groups nest one level deeper.
					appendGroupRow(t, "Test", fmt.Sprintf("%s %s", prefix, n.Name), n)
					instances := n.Entries()
					for j, inst := range instances {
						instPrefix := "│   │   ├──"
						if j == len(instances)-1 {
							instPrefix = "│   │   └──"
						}
						appendCaseRow(t, fmt.Sprintf("%s %s", instPrefix, inst.GetName()), inst)
					}
				default:
					appendCaseRow(t, fmt.Sprintf("%s %s", prefix, child.GetName()), child)
				}
			}
		}
		t.AppendSeparator()
	}

	// Update the table style setting based on result status
	switch result.Status {
	case status.Passed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case status.Skipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	// Add summary footer
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		getResultString(result.Status),
		"",
	})

	t.Render()
}

func appendGroupRow(t table.Writer, kind, id string, g *report.TestGroupReport) {
	stats := report.CollectStats(g)
	t.AppendRow(table.Row{
		kind,
		id,
		formatDuration(g.Duration),
		"-", // Don't count a group as a test
		stats.Passed,
		stats.Failed,
		stats.Skipped,
		getResultString(g.EffectiveStatus()),
		"",
	})
}

func appendCaseRow(t table.Writer, id string, n report.Node) {
	tc, ok := n.(*report.TestCaseReport)
	if !ok {
		return
	}
	st := tc.EffectiveStatus()
	t.AppendRow(table.Row{
		"Test",
		id,
		formatDuration(tc.Duration),
		"1",
		boolToInt(st == status.Passed),
		boolToInt(st == status.Failed || st == status.Error),
		boolToInt(st == status.Skipped),
		getResultString(st),
		extractKeyErrorMessage(tc),
	})
}

// extractKeyErrorMessage pulls the most pertinent failure detail out of a
// testcase's entries for the table's error column.
func extractKeyErrorMessage(tc *report.TestCaseReport) string {
	if tc.EffectiveStatus() == status.Passed {
		return ""
	}
	// Prefer the last failing entry; timeouts and errors carry a message,
	// assertions a description.
	for i := len(tc.Entries) - 1; i >= 0; i-- {
		e := tc.Entries[i]
		switch e.Type() {
		case "TaskTimeout", "Error":
			if msg, ok := e["message"].(string); ok {
				return firstLine(msg)
			}
		case "Equal", "True", "Fail":
			if passed, ok := e["passed"].(bool); ok && !passed {
				if desc, ok := e["description"].(string); ok {
					return firstLine(desc)
				}
			}
		}
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 80 {
		return s[:70] + "..."
	}
	return s
}

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a string representing the testcase outcome
func getResultString(st status.Status) string {
	switch st {
	case status.Passed:
		return "✓ pass"
	case status.Skipped:
		return "- skip"
	case status.Error:
		return "✗ error"
	case status.Unstable:
		return "~ unstable"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
