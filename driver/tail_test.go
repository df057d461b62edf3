package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, n int) []string {
	t.Helper()
	lines := make([]string, n)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		lines[i] = fmt.Sprintf("log line %06d with some padding to be realistic", i)
		sb.WriteString(lines[i])
		sb.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return lines
}

func TestTailFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("short file returns everything", func(t *testing.T) {
		path := filepath.Join(dir, "short.log")
		lines := writeLines(t, path, 3)
		got, err := tailFile(path, 10)
		require.NoError(t, err)
		assert.Equal(t, lines, got)
	})

	t.Run("long file returns exactly the last maxLines", func(t *testing.T) {
		path := filepath.Join(dir, "long.log")
		lines := writeLines(t, path, 5000)
		got, err := tailFile(path, 10)
		require.NoError(t, err)
		assert.Equal(t, lines[len(lines)-10:], got)
	})

	t.Run("zero maxLines returns all lines", func(t *testing.T) {
		path := filepath.Join(dir, "all.log")
		lines := writeLines(t, path, 50)
		got, err := tailFile(path, 0)
		require.NoError(t, err)
		assert.Equal(t, lines, got)
	})

	t.Run("trailing blank lines are trimmed", func(t *testing.T) {
		path := filepath.Join(dir, "blank.log")
		require.NoError(t, os.WriteFile(path, []byte("a\nb\n\n\n"), 0o644))
		got, err := tailFile(path, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := tailFile(filepath.Join(dir, "nope.log"), 10)
		require.Error(t, err)
	})
}

func TestFetchErrorLogPrefersStderr(t *testing.T) {
	runpath := t.TempDir()
	d, err := New(Config{Name: "server", Logfile: "server.log", ErrorLogsMaxLines: 5}, testLogger(), runpath)
	require.NoError(t, err)
	d.OutPath = filepath.Join(runpath, "stdout.log")
	d.ErrPath = filepath.Join(runpath, "stderr.log")

	require.NoError(t, os.WriteFile(d.LogPath, []byte("from logfile\n"), 0o644))
	require.NoError(t, os.WriteFile(d.OutPath, []byte("from stdout\n"), 0o644))
	require.NoError(t, os.WriteFile(d.ErrPath, []byte("from stderr\n"), 0o644))

	lines := d.FetchErrorLog()
	require.NotEmpty(t, lines)
	assert.Equal(t, "Information from log file: "+d.ErrPath, lines[0])
	assert.Equal(t, []string{"from stderr"}, lines[1:])
}

func TestFetchErrorLogFallsBackAndStripsColors(t *testing.T) {
	runpath := t.TempDir()
	d, err := New(Config{Name: "server", Logfile: "server.log", ErrorLogsMaxLines: 5}, testLogger(), runpath)
	require.NoError(t, err)
	d.ErrPath = filepath.Join(runpath, "stderr.log") // never written

	require.NoError(t, os.WriteFile(d.LogPath, []byte("\x1b[31merror: boom\x1b[0m\n"), 0o644))

	lines := d.FetchErrorLog()
	require.Len(t, lines, 2)
	assert.Equal(t, "Information from log file: "+d.LogPath, lines[0])
	assert.Equal(t, "error: boom", lines[1])
}

func TestFetchErrorLogNoFiles(t *testing.T) {
	d, err := New(Config{Name: "server"}, testLogger(), t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, d.FetchErrorLog())
}
