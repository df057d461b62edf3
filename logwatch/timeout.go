package logwatch

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceStatus is the per-source match summary embedded in a TimeoutError.
type SourceStatus struct {
	Name      string
	Path      string
	Matched   []string // pattern texts that matched before the deadline
	Unmatched []string // pattern texts still pending at the deadline
}

// TimeoutError is returned when the readiness deadline elapses with patterns
// still unmatched. Its message is rebuilt from the retained match state and
// extracts, so it stays accurate even after the watcher is discarded.
type TimeoutError struct {
	Timeout  time.Duration
	Sources  []SourceStatus
	Extracts map[string]string
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timed out after %s waiting for log patterns", e.Timeout)
	for _, src := range e.Sources {
		if len(src.Unmatched) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%s) matched: %s", src.Name, src.Path, formatPatterns(src.Matched))
		fmt.Fprintf(&b, "\nunmatched: %s", formatPatterns(src.Unmatched))
	}
	if len(e.Extracts) > 0 {
		b.WriteString("\nmatching groups:")
		keys := make([]string, 0, len(e.Extracts))
		for k := range e.Extracts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n\t%s: %s", k, e.Extracts[k])
		}
	}
	return b.String()
}

func formatPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "[]"
	}
	quoted := make([]string, len(patterns))
	for i, p := range patterns {
		quoted[i] = fmt.Sprintf("REGEX(%q)", p)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// timeoutError snapshots the watcher's current match state into a
// TimeoutError.
func (w *Watcher) timeoutError(timeout time.Duration) *TimeoutError {
	err := &TimeoutError{
		Timeout:  timeout,
		Extracts: w.Extracts(),
	}
	for _, src := range w.sources {
		state := w.matched[src.Name]
		ss := SourceStatus{Name: src.Name, Path: src.Path}
		for _, p := range src.Patterns {
			if state[p.String()] {
				ss.Matched = append(ss.Matched, p.String())
			} else {
				ss.Unmatched = append(ss.Unmatched, p.String())
			}
		}
		err.Sources = append(err.Sources, ss)
	}
	return err
}
