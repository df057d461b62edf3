// Package driver manages auxiliary long-lived processes that test suites
// depend on. A Driver is a Resource: its lifecycle runs through the shared
// status machine, start and stop synchronize on log content through
// logwatch, and named capture groups matched during startup are exposed as
// extracts for dependent suites and templated install files.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/logging"
	"github.com/ethereum-optimism/infra/op-harness/logwatch"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

// Resource is any managed component with an explicit lifecycle.
type Resource interface {
	Name() string
	Status() status.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hooks customize a Driver's behaviour at fixed points of its lifecycle.
// Starting launches the underlying process or service; Stopping shuts it
// down. All hooks are optional except Starting for drivers that actually
// manage something external.
type Hooks struct {
	PreStart  func(ctx context.Context, d *Driver) error
	Starting  func(ctx context.Context, d *Driver) error
	PostStart func(ctx context.Context, d *Driver) error
	PreStop   func(ctx context.Context, d *Driver) error
	Stopping  func(ctx context.Context, d *Driver) error
	PostStop  func(ctx context.Context, d *Driver) error
}

// Driver wraps an external process or service. Drivers are not safe for
// concurrent Start/Stop from multiple goroutines; the environment owns each
// driver exclusively.
type Driver struct {
	cfg     Config
	machine *status.Machine
	logger  log.Logger
	hooks   Hooks

	runpath  string
	extracts map[string]string

	logRegexps    []*regexp.Regexp
	stdoutRegexps []*regexp.Regexp
	stderrRegexps []*regexp.Regexp

	// Readiness source paths. OutPath and ErrPath are set by the concrete
	// driver before launch; LogPath defaults from cfg.Logfile.
	LogPath string
	OutPath string
	ErrPath string

	fileLogger *logging.FileLogger
	started    bool // actively entered STARTING at least once
}

// New creates a driver from a validated config. runpath is the driver's
// private working directory; relative artifact paths resolve under it.
func New(cfg Config, logger log.Logger, runpath string) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New()
	}
	d := &Driver{
		cfg:           cfg,
		machine:       status.NewMachine(cfg.Name),
		logger:        logger.New("driver", cfg.Name),
		runpath:       runpath,
		extracts:      make(map[string]string),
		logRegexps:    compilePatterns(cfg.LogRegexps),
		stdoutRegexps: compilePatterns(cfg.StdoutRegexps),
		stderrRegexps: compilePatterns(cfg.StderrRegexps),
	}
	if cfg.Logfile != "" {
		d.LogPath = d.resolvePath(cfg.Logfile)
	}
	d.machine.OnChange(func(from, to status.Status) {
		d.logger.Debug("Driver status change", "from", from, "to", to)
	})
	return d, nil
}

// WithHooks attaches lifecycle hooks. Must be called before Start.
func (d *Driver) WithHooks(hooks Hooks) *Driver {
	d.hooks = hooks
	return d
}

// Name returns the driver name, unique within its environment.
func (d *Driver) Name() string { return d.cfg.Name }

// Config returns the driver's validated configuration.
func (d *Driver) Config() Config { return d.cfg }

// Status returns the current lifecycle state.
func (d *Driver) Status() status.Status { return d.machine.Current() }

// AsyncStart reports whether this driver's start may overlap with the rest
// of its environment.
func (d *Driver) AsyncStart() bool { return d.cfg.AsyncStart }

// Runpath returns the driver's private working directory.
func (d *Driver) Runpath() string { return d.runpath }

// Extracts returns the named values captured from the driver's logs during
// startup. The map is owned by the driver; callers must not mutate it while
// the driver is starting or stopping.
func (d *Driver) Extracts() map[string]string { return d.extracts }

// FileLogger returns the driver's scoped file logger, nil before Start.
func (d *Driver) FileLogger() *logging.FileLogger { return d.fileLogger }

func (d *Driver) resolvePath(p string) string {
	if filepath.IsAbs(p) || d.runpath == "" {
		return p
	}
	return filepath.Join(d.runpath, p)
}

// Start brings the driver up: PENDING -> STARTING, pre-start hook, launch,
// bounded readiness wait on the configured log patterns, then STARTED and
// the post-start hook. Start is a no-op when the driver is already STARTED
// or further along. A readiness timeout is fatal to the call but leaves any
// already-extracted values intact.
func (d *Driver) Start(ctx context.Context) error {
	if d.machine.Current().AtLeast(status.Started) {
		d.logger.Debug("Driver already started, nothing to do")
		return nil
	}
	if err := d.machine.Change(status.Starting); err != nil {
		return err
	}
	d.started = true

	ok := false
	defer func() {
		if !ok {
			d.closeFileLogger()
		}
	}()

	if err := d.preStart(ctx); err != nil {
		return d.startError(fmt.Errorf("pre-start of driver %s: %w", d.Name(), err))
	}
	if d.hooks.Starting != nil {
		if err := d.hooks.Starting(ctx, d); err != nil {
			return d.startError(fmt.Errorf("starting driver %s: %w", d.Name(), err))
		}
	}
	if err := d.waitStarted(ctx); err != nil {
		return d.startError(err)
	}
	if err := d.machine.Change(status.Started); err != nil {
		return err
	}
	if d.hooks.PostStart != nil {
		if err := d.hooks.PostStart(ctx, d); err != nil {
			return fmt.Errorf("post-start of driver %s: %w", d.Name(), err)
		}
	}
	ok = true
	d.logger.Info("Driver started", "extracts", len(d.extracts))
	return nil
}

// preStart makes sure the working directory structure exists, renders
// install files and opens the driver's file logger.
func (d *Driver) preStart(ctx context.Context) error {
	if d.runpath != "" {
		if err := os.MkdirAll(d.runpath, 0o755); err != nil {
			return fmt.Errorf("creating runpath: %w", err)
		}
	}
	if d.hooks.PreStart != nil {
		if err := d.hooks.PreStart(ctx, d); err != nil {
			return err
		}
	}
	if len(d.cfg.InstallFiles) > 0 {
		if err := d.installFiles(); err != nil {
			return err
		}
	}
	if d.runpath != "" && d.fileLogger == nil {
		fl, err := logging.NewFileLogger(filepath.Join(d.runpath, "driver.log"))
		if err != nil {
			return err
		}
		d.fileLogger = fl
	}
	return nil
}

// waitStarted blocks on the readiness sources until all patterns match or
// the configured timeout elapses. Extracts collected before a timeout are
// merged in either way.
func (d *Driver) waitStarted(ctx context.Context) error {
	sources := d.watchSources()
	if len(sources) == 0 {
		return nil
	}
	watcher := logwatch.New(d.logger, sources...)
	extracts, err := watcher.Wait(ctx, d.cfg.Timeout)
	if err != nil {
		for k, v := range watcher.Extracts() {
			d.extracts[k] = v
		}
		return d.withLogTail(fmt.Errorf("driver %s failed to start: %w", d.Name(), err))
	}
	for k, v := range extracts {
		d.extracts[k] = v
	}
	return nil
}

// watchSources assembles the readiness sources, skipping any with an unset
// path or no patterns.
func (d *Driver) watchSources() []logwatch.Source {
	var sources []logwatch.Source
	if d.LogPath != "" {
		sources = append(sources, logwatch.Source{Name: "log_regexps", Path: d.LogPath, Patterns: d.logRegexps})
	}
	if d.OutPath != "" {
		sources = append(sources, logwatch.Source{Name: "stdout_regexps", Path: d.OutPath, Patterns: d.stdoutRegexps})
	}
	if d.ErrPath != "" {
		sources = append(sources, logwatch.Source{Name: "stderr_regexps", Path: d.ErrPath, Patterns: d.stderrRegexps})
	}
	out := sources[:0]
	for _, s := range sources {
		if len(s.Patterns) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Stop brings the driver down: STARTED -> STOPPING, pre-stop hook, shutdown
// action, STOPPED, post-stop hook. Stop is a no-op when the driver was never
// actively started or is already STOPPED.
func (d *Driver) Stop(ctx context.Context) error {
	defer d.closeFileLogger()

	current := d.machine.Current()
	if !d.started || current == status.Stopped {
		d.logger.Debug("Driver not running, nothing to stop")
		return nil
	}
	if err := d.machine.Change(status.Stopping); err != nil {
		return err
	}
	if d.hooks.PreStop != nil {
		if err := d.hooks.PreStop(ctx, d); err != nil {
			return fmt.Errorf("pre-stop of driver %s: %w", d.Name(), err)
		}
	}
	if d.hooks.Stopping != nil {
		if err := d.hooks.Stopping(ctx, d); err != nil {
			return d.withLogTail(fmt.Errorf("stopping driver %s: %w", d.Name(), err))
		}
	}
	if err := d.machine.Change(status.Stopped); err != nil {
		return err
	}
	if d.hooks.PostStop != nil {
		if err := d.hooks.PostStop(ctx, d); err != nil {
			return fmt.Errorf("post-stop of driver %s: %w", d.Name(), err)
		}
	}
	d.logger.Info("Driver stopped")
	return nil
}

func (d *Driver) closeFileLogger() {
	if d.fileLogger != nil {
		if err := d.fileLogger.Close(); err != nil {
			d.logger.Warn("Failed to close driver file logger", "err", err)
		}
	}
}

// startError normalizes a startup failure. The machine moves to STOPPING so
// a subsequent environment teardown can finish the abort cleanly.
func (d *Driver) startError(err error) error {
	if merr := d.machine.Change(status.Stopping); merr != nil {
		d.logger.Warn("Could not abort driver start", "err", merr)
	}
	return err
}

// withLogTail attaches the tail of the driver's own logs to the error when
// report_errors_from_logs is enabled.
func (d *Driver) withLogTail(err error) error {
	if !d.cfg.ReportErrorsFromLogs {
		return err
	}
	lines := d.FetchErrorLog()
	if len(lines) == 0 {
		return err
	}
	return fmt.Errorf("%w\n%s", err, joinLines(lines))
}
