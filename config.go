package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	PlanConfig          string        // Path to the plan config file
	LogDir              string        // Directory to store run artifacts
	RunInterval         time.Duration // Interval between runs
	RunOnce             bool          // Indicates if the service should exit after one run
	DefaultTimeout      time.Duration // Default timeout for individual testcases, can be overridden per plan
	Workers             int           // Worker slots for the default execution group
	AllowImplicitGroups bool          // Create execution groups on first use
	Log                 log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, planConfig string) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if planConfig == "" {
		return nil, errors.New("plan config file is required")
	}

	absPlanConfig, err := filepath.Abs(planConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for plan config '%s': %w", planConfig, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	workers := ctx.Int(flags.Workers.Name)
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	}

	return &Config{
		PlanConfig:          absPlanConfig,
		LogDir:              logDir,
		RunInterval:         runInterval,
		RunOnce:             runOnce,
		DefaultTimeout:      ctx.Duration(flags.DefaultTimeout.Name),
		Workers:             workers,
		AllowImplicitGroups: ctx.Bool(flags.AllowImplicitGroups.Name),
		Log:                 log,
	}, nil
}
