package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// CommandConfig describes an external process managed as a driver.
type CommandConfig struct {
	Config `yaml:",inline"`

	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args,omitempty"`
	Env    []string `yaml:"env,omitempty"`
	// StopTimeout bounds the graceful-shutdown wait after SIGTERM before the
	// process is killed. Defaults to the driver timeout.
	StopTimeout time.Duration `yaml:"stop_timeout,omitempty"`
}

// Command runs an external binary, capturing stdout and stderr into files
// under the driver runpath so they can serve as readiness sources.
type Command struct {
	*Driver

	cfg  CommandConfig
	cmd  *exec.Cmd
	out  *os.File
	errf *os.File
	done chan error
}

// NewCommand creates a process driver. The binary's stdout and stderr are
// redirected to stdout.log and stderr.log under runpath.
func NewCommand(cfg CommandConfig, logger log.Logger, runpath string) (*Command, error) {
	if cfg.Binary == "" {
		return nil, errors.New("command driver requires a binary")
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = cfg.Timeout
	}
	c := &Command{cfg: cfg}
	base, err := New(cfg.Config, logger, runpath)
	if err != nil {
		return nil, err
	}
	c.Driver = base.WithHooks(Hooks{
		Starting: c.launch,
		Stopping: c.terminate,
	})
	c.OutPath = filepath.Join(runpath, "stdout.log")
	c.ErrPath = filepath.Join(runpath, "stderr.log")
	return c, nil
}

// Cmd returns the underlying command, nil before Start.
func (c *Command) Cmd() *exec.Cmd { return c.cmd }

func (c *Command) launch(ctx context.Context, d *Driver) error {
	var err error
	if c.out, err = os.Create(c.OutPath); err != nil {
		return fmt.Errorf("creating stdout file: %w", err)
	}
	if c.errf, err = os.Create(c.ErrPath); err != nil {
		return fmt.Errorf("creating stderr file: %w", err)
	}

	// Not exec.CommandContext: the driver outlives the start call's context,
	// shutdown is handled by terminate.
	cmd := exec.Command(c.cfg.Binary, c.cfg.Args...)
	cmd.Dir = d.Runpath()
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stdout = c.out
	cmd.Stderr = c.errf
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.cfg.Binary, err)
	}
	c.cmd = cmd
	c.done = make(chan error, 1)
	go func() { c.done <- cmd.Wait() }()
	return nil
}

// terminate asks the process to exit and kills it if it does not comply
// within the stop timeout.
func (c *Command) terminate(ctx context.Context, d *Driver) error {
	defer c.closeOutputs()
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil // already exited
	default:
	}
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling %s: %w", c.cfg.Binary, err)
	}
	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing %s: %w", c.cfg.Binary, err)
	}
	<-c.done
	return nil
}

func (c *Command) closeOutputs() {
	if c.out != nil {
		c.out.Close()
		c.out = nil
	}
	if c.errf != nil {
		c.errf.Close()
		c.errf = nil
	}
}
