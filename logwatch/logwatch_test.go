package logwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMatchPatternsInFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.log", "starting up\nlistening on port 4222\nready\n")

	t.Run("all matched with extracts", func(t *testing.T) {
		patterns := []*regexp.Regexp{
			regexp.MustCompile(`listening on port (?P<port>\d+)`),
			regexp.MustCompile(`ready`),
		}
		ok, extracts, unmatched := MatchPatternsInFile(path, patterns)
		require.True(t, ok)
		assert.Empty(t, unmatched)
		assert.Equal(t, map[string]string{"port": "4222"}, extracts)
	})

	t.Run("partial match reports unmatched", func(t *testing.T) {
		patterns := []*regexp.Regexp{
			regexp.MustCompile(`ready`),
			regexp.MustCompile(`shutdown complete`),
		}
		ok, _, unmatched := MatchPatternsInFile(path, patterns)
		require.False(t, ok)
		require.Len(t, unmatched, 1)
		assert.Equal(t, `shutdown complete`, unmatched[0].String())
	})

	t.Run("missing file leaves all unmatched", func(t *testing.T) {
		patterns := []*regexp.Regexp{regexp.MustCompile(`ready`)}
		ok, extracts, unmatched := MatchPatternsInFile(filepath.Join(dir, "nope.log"), patterns)
		require.False(t, ok)
		assert.Empty(t, extracts)
		assert.Len(t, unmatched, 1)
	})
}

func TestWatcherWaitSuccess(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "driver.log", "pid=1234 starting\n")
	outPath := writeFile(t, dir, "stdout.log", "")

	w := New(nil,
		Source{Name: "log_regexps", Path: logPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`pid=(?P<pid>\d+)`),
		}},
		Source{Name: "stdout_regexps", Path: outPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`accepting connections on (?P<addr>\S+)`),
		}},
	).WithPollInterval(10 * time.Millisecond)

	// Simulate the process becoming ready while the watcher polls.
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(outPath, []byte("accepting connections on 127.0.0.1:9000\n"), 0o644)
	}()

	extracts, err := w.Wait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pid": "1234", "addr": "127.0.0.1:9000"}, extracts)
}

func TestWatcherWaitTimeout(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "driver.log", "pid=77 starting\n")

	w := New(nil,
		Source{Name: "log_regexps", Path: logPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`pid=(?P<pid>\d+)`),
			regexp.MustCompile(`server ready`),
		}},
	).WithPollInterval(10 * time.Millisecond)

	_, err := w.Wait(context.Background(), 50*time.Millisecond)
	require.Error(t, err)

	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))

	// The error retains the extracts collected before the deadline and lists
	// exactly the unmatched patterns.
	assert.Equal(t, map[string]string{"pid": "77"}, timeout.Extracts)
	require.Len(t, timeout.Sources, 1)
	assert.Equal(t, []string{`pid=(?P<pid>\d+)`}, timeout.Sources[0].Matched)
	assert.Equal(t, []string{`server ready`}, timeout.Sources[0].Unmatched)

	msg := err.Error()
	assert.Contains(t, msg, "server ready")
	assert.Contains(t, msg, "pid: 77")
}

func TestWatcherSkipsSourcesWithoutPatterns(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "driver.log", "ready\n")

	w := New(nil,
		Source{Name: "log_regexps", Path: logPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`ready`),
		}},
		// No patterns: must be skipped even though the file does not exist.
		Source{Name: "stderr_regexps", Path: filepath.Join(dir, "missing.log")},
	).WithPollInterval(10 * time.Millisecond)

	_, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
}

func TestWatcherLastMatchWinsForSharedGroupNames(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "driver.log", "primary addr=10.0.0.1\nbackup addr=10.0.0.2\n")

	w := New(nil,
		Source{Name: "log_regexps", Path: logPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`primary addr=(?P<addr>\S+)`),
			regexp.MustCompile(`backup addr=(?P<addr>\S+)`),
		}},
	).WithPollInterval(10 * time.Millisecond)

	extracts, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	// Later matches overwrite earlier ones for the same group name.
	assert.Equal(t, "10.0.0.2", extracts["addr"])
}

func TestWatcherContextCancellation(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "driver.log", "")

	w := New(nil,
		Source{Name: "log_regexps", Path: logPath, Patterns: []*regexp.Regexp{
			regexp.MustCompile(`never appears`),
		}},
	).WithPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := w.Wait(ctx, time.Minute)
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout))
}
