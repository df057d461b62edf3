// Package harness orchestrates plan runs: it resolves the registered
// multitests against the plan config, executes them on a grouped worker pool,
// and publishes the resulting report as console output, JSON artifacts and
// metrics.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-harness/logging"
	"github.com/ethereum-optimism/infra/op-harness/metrics"
	"github.com/ethereum-optimism/infra/op-harness/multitest"
	"github.com/ethereum-optimism/infra/op-harness/pool"
	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/report"
	"github.com/ethereum-optimism/infra/op-harness/status"
)

// RunResult is the outcome of one complete plan run.
type RunResult struct {
	RunID         string
	Report        *report.Report
	Stats         report.Stats
	Status        status.Status
	Duration      time.Duration
	ArtifactsPath string
}

// Harness runs the configured plan, once or on an interval.
type Harness struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	scheduler RunScheduler

	resultMu sync.RWMutex
	result   *RunResult

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates a harness service around an already-populated registry.
func New(ctx context.Context, config *Config, version string, reg *registry.Registry, shutdownCallback func(error)) (*Harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}

	config.Log.Debug("Creating harness with config",
		"planConfig", config.PlanConfig,
		"logDir", config.LogDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"workers", config.Workers)

	return &Harness{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		scheduler:        NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the plan immediately, then keeps running it at the configured
// interval unless in run-once mode. In run-once mode it returns a
// TestFailureError when the run did not pass, so the caller maps it to exit
// code 1.
func (h *Harness) Start(ctx context.Context) error {
	h.ctx = ctx

	if h.config.RunOnce {
		h.config.Log.Info("Starting op-harness in run-once mode")
	} else {
		h.config.Log.Info("Starting op-harness in continuous mode", "interval", h.config.RunInterval)
	}

	h.scheduler.RegisterCallback(h.runPlan)
	if err := h.scheduler.Start(ctx); err != nil {
		h.config.Log.Error("Runtime error running plan", "error", err)
		return NewRuntimeError(err)
	}

	if h.config.RunOnce {
		h.config.Log.Info("Run completed, exiting (run-once mode)")
		if result := h.Result(); result != nil && !passing(result.Status) {
			h.config.Log.Warn("Run-once completed with failures, returning exit code 1")
			return NewTestFailureError(fmt.Sprintf("plan %s finished with status %s",
				result.Report.Name, result.Status))
		}
		// Only needed in run-once mode when the run passed.
		go func() {
			h.shutdownCallback(nil)
		}()
		return nil
	}

	h.config.Log.Debug("op-harness started successfully")
	return nil
}

// runPlan executes one full run of the plan and publishes its results.
func (h *Harness) runPlan() error {
	runID := uuid.New().String()
	h.config.Log.Info("Running plan", "run_id", runID)

	runCtx, span := otel.Tracer("op-harness").Start(h.ctx, "plan run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	runDir, err := logging.NewRunDirectory(h.config.LogDir, runID)
	if err != nil {
		return err
	}

	poolCfg := h.registry.PoolConfig()
	if poolCfg.DefaultSlots <= 0 {
		poolCfg.DefaultSlots = h.config.Workers
	}
	poolCfg.AllowImplicitGroups = poolCfg.AllowImplicitGroups || h.config.AllowImplicitGroups
	p, err := pool.New(h.config.Log, poolCfg)
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}

	tests, err := h.registry.Resolve()
	if err != nil {
		return err
	}

	plan := h.registry.Plan()
	rep := report.NewReport(plan.Name, runID)
	runner := multitest.NewRunner(h.config.Log, p, rep)

	start := time.Now()
	runErr := runner.Run(runCtx, tests...)
	rep.Duration = time.Since(start)

	stats := report.CollectStats(rep)
	result := &RunResult{
		RunID:         runID,
		Report:        rep,
		Stats:         stats,
		Status:        rep.EffectiveStatus(),
		Duration:      rep.Duration,
		ArtifactsPath: runDir.Path(),
	}
	h.resultMu.Lock()
	h.result = result
	h.resultMu.Unlock()

	h.printResultsTable(result)
	if err := report.WriteJSON(rep, runDir.ReportPath()); err != nil {
		h.config.Log.Error("Failed to write report artifact", "path", runDir.ReportPath(), "err", err)
	} else {
		h.config.Log.Info("Report written", "path", runDir.ReportPath())
	}

	metrics.RecordRun(plan.Name, runID, string(result.Status), stats, result.Duration)
	for group, count := range countTimeouts(rep) {
		for i := 0; i < count; i++ {
			metrics.RecordTaskTimeout(plan.Name, group)
		}
	}

	h.config.Log.Info("Run completed", "run_id", runID, "status", result.Status)
	if runErr != nil {
		h.config.Log.Error("Run finished with orchestration errors", "error", runErr)
		metrics.RecordErrorDetails("run", runErr)
	}
	return nil
}

// countTimeouts tallies force-finalized testcases per multitest group name.
func countTimeouts(rep *report.Report) map[string]int {
	out := make(map[string]int)
	var walk func(owner string, n report.Node)
	walk = func(owner string, n report.Node) {
		switch node := n.(type) {
		case *report.TestCaseReport:
			for _, e := range node.Entries {
				if e.Type() == "TaskTimeout" {
					out[owner]++
					break
				}
			}
		case *report.TestGroupReport:
			for _, child := range node.Entries() {
				walk(owner, child)
			}
		}
	}
	for _, g := range rep.Entries() {
		walk(g.Name, g)
	}
	return out
}

func passing(st status.Status) bool {
	return st == status.Passed || st == status.Skipped
}

// Result returns the most recent run's outcome, nil before the first run.
// Safe to call while a continuous-mode run is in flight.
func (h *Harness) Result() *RunResult {
	h.resultMu.RLock()
	defer h.resultMu.RUnlock()
	return h.result
}

// Stop stops the harness service.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping op-harness")
	if err := h.scheduler.Stop(); err != nil {
		return err
	}
	h.config.Log.Info("op-harness stopped successfully")
	return nil
}

// Stopped returns true if the harness service is stopped.
func (h *Harness) Stopped() bool {
	return h.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (h *Harness) WaitForShutdown(ctx context.Context) error {
	return h.scheduler.WaitForShutdown(ctx)
}
