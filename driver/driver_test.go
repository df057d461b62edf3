package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-harness/logwatch"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Name: "server"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultErrorLogsMaxLines, cfg.ErrorLogsMaxLines)
}

func TestConfigValidateErrors(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg = Config{Name: "server", LogRegexps: []string{"("}}
	require.Error(t, cfg.Validate())
}

func TestDriverLifecycle(t *testing.T) {
	var calls []string
	record := func(name string) func(context.Context, *Driver) error {
		return func(context.Context, *Driver) error {
			calls = append(calls, name)
			return nil
		}
	}

	d, err := New(Config{Name: "server"}, testLogger(), t.TempDir())
	require.NoError(t, err)
	d.WithHooks(Hooks{
		PreStart:  record("pre_start"),
		Starting:  record("starting"),
		PostStart: record("post_start"),
		PreStop:   record("pre_stop"),
		Stopping:  record("stopping"),
		PostStop:  record("post_stop"),
	})
	assert.Equal(t, status.Pending, d.Status())

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, status.Started, d.Status())
	assert.Equal(t, []string{"pre_start", "starting", "post_start"}, calls)

	// Second start is a no-op.
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, []string{"pre_start", "starting", "post_start"}, calls)

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, status.Stopped, d.Status())
	assert.Equal(t, []string{
		"pre_start", "starting", "post_start",
		"pre_stop", "stopping", "post_stop",
	}, calls)

	// Second stop is a no-op too.
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, calls, 6)
}

func TestDriverStopWithoutStart(t *testing.T) {
	stopped := false
	d, err := New(Config{Name: "server"}, testLogger(), t.TempDir())
	require.NoError(t, err)
	d.WithHooks(Hooks{Stopping: func(context.Context, *Driver) error {
		stopped = true
		return nil
	}})

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, stopped, "stopping hook must not fire for a driver that never started")
	assert.Equal(t, status.Pending, d.Status())
}

func TestDriverReadinessExtracts(t *testing.T) {
	runpath := t.TempDir()
	cfg := Config{
		Name:       "server",
		Logfile:    "server.log",
		LogRegexps: []string{`listening on port (?P<port>\d+)`},
		Timeout:    5 * time.Second,
	}
	d, err := New(cfg, testLogger(), runpath)
	require.NoError(t, err)
	d.WithHooks(Hooks{Starting: func(_ context.Context, d *Driver) error {
		return os.WriteFile(d.LogPath, []byte("booting\nlistening on port 8080\n"), 0o644)
	}})

	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, map[string]string{"port": "8080"}, d.Extracts())
	require.NoError(t, d.Stop(context.Background()))
}

func TestDriverReadinessTimeout(t *testing.T) {
	runpath := t.TempDir()
	cfg := Config{
		Name:       "server",
		Logfile:    "server.log",
		LogRegexps: []string{`started pid=(?P<pid>\d+)`, `accepting connections`},
		Timeout:    300 * time.Millisecond,
	}
	d, err := New(cfg, testLogger(), runpath)
	require.NoError(t, err)
	d.WithHooks(Hooks{Starting: func(_ context.Context, d *Driver) error {
		// Only the first pattern will ever match.
		return os.WriteFile(d.LogPath, []byte("started pid=42\n"), 0o644)
	}})

	err = d.Start(context.Background())
	require.Error(t, err)
	var timeoutErr *logwatch.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, err.Error(), "accepting connections")

	// Partial extracts survive the failed start for diagnostics.
	assert.Equal(t, map[string]string{"pid": "42"}, d.Extracts())
	assert.Equal(t, status.Stopping, d.Status())
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, status.Stopped, d.Status())
}

func TestDriverStartFailureAttachesLogTail(t *testing.T) {
	runpath := t.TempDir()
	cfg := Config{
		Name:                 "server",
		Logfile:              "server.log",
		LogRegexps:           []string{`never matches`},
		Timeout:              200 * time.Millisecond,
		ReportErrorsFromLogs: true,
		ErrorLogsMaxLines:    2,
	}
	d, err := New(cfg, testLogger(), runpath)
	require.NoError(t, err)
	d.WithHooks(Hooks{Starting: func(_ context.Context, d *Driver) error {
		return os.WriteFile(d.LogPath, []byte("line one\nline two\nfatal: bind failed\n"), 0o644)
	}})

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Information from log file: "+d.LogPath)
	assert.Contains(t, err.Error(), "fatal: bind failed")
	assert.NotContains(t, err.Error(), "line one", "tail is capped at error_logs_max_lines")
}

func TestDriverInstallFiles(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "server.conf")
	require.NoError(t, os.WriteFile(src,
		[]byte("name={{.Name}}\nlog={{.LogPath}}\n"), 0o644))

	runpath := t.TempDir()
	cfg := Config{
		Name:         "server",
		Logfile:      "server.log",
		InstallFiles: []string{src},
	}
	d, err := New(cfg, testLogger(), runpath)
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	data, err := os.ReadFile(filepath.Join(d.InstallDir(), "server.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name=server")
	assert.Contains(t, string(data), "log="+d.LogPath)
}

func TestCommandDriver(t *testing.T) {
	cfg := CommandConfig{
		Config: Config{
			Name:          "echoer",
			StdoutRegexps: []string{`ready pid=(?P<pid>\d+)`},
			Timeout:       5 * time.Second,
		},
		Binary:      "sh",
		Args:        []string{"-c", "echo ready pid=42; sleep 30"},
		StopTimeout: 2 * time.Second,
	}
	c, err := NewCommand(cfg, testLogger(), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, status.Started, c.Status())
	assert.Equal(t, "42", c.Extracts()["pid"])

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, status.Stopped, c.Status())
}

func TestCommandDriverRequiresBinary(t *testing.T) {
	_, err := NewCommand(CommandConfig{Config: Config{Name: "x"}}, testLogger(), t.TempDir())
	require.Error(t, err)
}
