package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	harness "github.com/ethereum-optimism/infra/op-harness"
	"github.com/ethereum-optimism/infra/op-harness/exitcodes"
	"github.com/ethereum-optimism/infra/op-harness/flags"
	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-harness"
	app.Usage = "Test Orchestration Harness Service"
	app.Description = "op-harness runs multitest plans against managed driver environments"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		// RuntimeError and TestFailureError implement cli.ExitCoder, so
		// typed harness errors map straight to their exit codes.
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	logLevel, err := oplog.LevelFromString(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return harness.NewRuntimeError(fmt.Errorf("invalid log level: %w", err))
	}
	logger := log.NewLogger(log.LogfmtHandlerWithLevel(os.Stdout, logLevel))
	log.SetDefault(logger)

	cfg, err := harness.NewConfig(cliCtx, logger, cliCtx.String(flags.PlanConfig.Name))
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return harness.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	// Sidecar healthz/metrics servers
	svc := service.New(service.Config{
		HealthzPort:    cliCtx.Int(flags.HealthzPort.Name),
		MetricsEnabled: cliCtx.Bool(flags.MetricsEnabled.Name),
		MetricsPort:    cliCtx.Int(flags.MetricsPort.Name),
	})
	svc.Start(cliCtx.Context)
	defer svc.Shutdown()

	reg, err := registry.NewRegistry(registry.Config{
		Log:            logger,
		PlanConfigFile: cfg.PlanConfig,
		DefaultTimeout: cfg.DefaultTimeout,
	})
	if err != nil {
		return harness.NewRuntimeError(fmt.Errorf("failed to create registry: %w", err))
	}
	if err := registerMultiTests(reg); err != nil {
		return harness.NewRuntimeError(fmt.Errorf("failed to register multitests: %w", err))
	}

	done := make(chan error, 1)
	h, err := harness.New(cliCtx.Context, cfg, Version, reg, func(err error) {
		done <- err
	})
	if err != nil {
		return harness.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}

	if err := h.Start(cliCtx.Context); err != nil {
		// Typed errors map to exit codes in the ExitErrHandler.
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	// Continuous mode: block until shutdown is requested.
	select {
	case err := <-done:
		if err != nil {
			logger.Error("Shutting down after error", "err", err)
		}
	case <-cliCtx.Context.Done():
		logger.Info("Interrupt received, shutting down")
	}

	if err := h.Stop(context.Background()); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.WaitForShutdown(waitCtx)
}
