// Package logwatch synchronizes on the contents of log files. A Watcher
// polls one or more text files for regular-expression matches, collecting
// named capture groups, until every pattern has matched or a deadline
// elapses. Drivers use it to detect process readiness and shutdown.
package logwatch

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultPollInterval is the delay between successive scans of the sources.
const DefaultPollInterval = 250 * time.Millisecond

// Source is a single file to watch, paired with the patterns that must all
// match somewhere in it. A Source with no patterns is skipped entirely and
// never counts as unmatched.
type Source struct {
	Name     string // label used in diagnostics, e.g. "log_regexps"
	Path     string
	Patterns []*regexp.Regexp
}

// Watcher polls a set of sources until every configured pattern matches.
// Match state is sticky across polls: once a pattern has matched it stays
// matched even if the file is truncated afterwards.
type Watcher struct {
	sources  []Source
	interval time.Duration
	log      log.Logger

	matched  map[string]map[string]bool // source name -> pattern -> matched
	extracts map[string]string
}

// New creates a Watcher over the given sources. Sources without patterns
// are dropped here so the wait loop only ever sees real work.
func New(logger log.Logger, sources ...Source) *Watcher {
	if logger == nil {
		logger = log.New()
	}
	w := &Watcher{
		interval: DefaultPollInterval,
		log:      logger.New("component", "logwatch"),
		matched:  make(map[string]map[string]bool),
		extracts: make(map[string]string),
	}
	for _, src := range sources {
		if len(src.Patterns) == 0 {
			continue
		}
		w.sources = append(w.sources, src)
		w.matched[src.Name] = make(map[string]bool)
	}
	return w
}

// WithPollInterval overrides the scan interval. Mainly used by tests.
func (w *Watcher) WithPollInterval(d time.Duration) *Watcher {
	w.interval = d
	return w
}

// Extracts returns the named capture groups collected so far. When several
// patterns define a capture group with the same name, the value seen last in
// scan order wins; that merge order is a known ambiguity inherited from the
// reference behaviour and should not be relied upon.
func (w *Watcher) Extracts() map[string]string {
	out := make(map[string]string, len(w.extracts))
	for k, v := range w.extracts {
		out[k] = v
	}
	return out
}

// Wait polls the sources until every pattern has matched at least once,
// returning the merged extracts. If the timeout (or the context) expires
// first it returns a *TimeoutError describing, per source, which patterns
// matched, which did not, and the extracts collected so far.
func (w *Watcher) Wait(ctx context.Context, timeout time.Duration) (map[string]string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if w.scan() {
			return w.Extracts(), nil
		}
		if time.Now().After(deadline) {
			err := w.timeoutError(timeout)
			w.log.Warn("Log watch timed out", "timeout", timeout, "err", err)
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, w.timeoutError(timeout)
		case <-time.After(w.interval):
		}
	}
}

// scan runs one pass over every source and reports whether all patterns
// have now matched.
func (w *Watcher) scan() bool {
	done := true
	for _, src := range w.sources {
		state := w.matched[src.Name]

		var pending []*regexp.Regexp
		for _, p := range src.Patterns {
			if !state[p.String()] {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			continue
		}

		ok, extracts, unmatched := MatchPatternsInFile(src.Path, pending)
		for k, v := range extracts {
			w.extracts[k] = v
		}
		stillPending := make(map[string]bool, len(unmatched))
		for _, p := range unmatched {
			stillPending[p.String()] = true
		}
		for _, p := range pending {
			if !stillPending[p.String()] {
				state[p.String()] = true
			}
		}
		if !ok {
			done = false
		}
	}
	return done
}

// MatchPatternsInFile scans the file at path line by line against every
// pattern. It returns whether all patterns matched, the named capture groups
// of the matches, and the patterns that did not match. A missing file leaves
// every pattern unmatched.
func MatchPatternsInFile(path string, patterns []*regexp.Regexp) (bool, map[string]string, []*regexp.Regexp) {
	extracts := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		return false, extracts, patterns
	}
	defer f.Close()

	matched := make([]bool, len(patterns))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for i, p := range patterns {
			m := p.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			matched[i] = true
			for gi, name := range p.SubexpNames() {
				if name != "" && gi < len(m) {
					extracts[name] = m[gi]
				}
			}
		}
	}

	var unmatched []*regexp.Regexp
	for i, ok := range matched {
		if !ok {
			unmatched = append(unmatched, patterns[i])
		}
	}
	return len(unmatched) == 0, extracts, unmatched
}
