package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/stepfire/internal/config"
	"github.com/torosent/stepfire/internal/logging"
	"github.com/torosent/stepfire/internal/metricsserver"
	"github.com/torosent/stepfire/internal/output"
	"github.com/torosent/stepfire/internal/runner"
	"github.com/torosent/stepfire/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := ulid.Make().String()
	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{Scenario: cfg.Scenario.Name, RunID: runID})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	sc, err := buildScenario(cfg, logger, tp.ShouldPropagate())
	if err != nil {
		return err
	}

	r, err := runner.New(sc, runnerOptions(cfg, runID, logger, tp, stdout))
	if err != nil {
		return err
	}

	if addr := cfg.MetricsServer.Addr; addr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvErr := make(chan error, 1)
		srv := metricsserver.New(r, logging.Component(logger, "metricsserver"))
		go func() { srvErr <- srv.Serve(srvCtx, addr) }()
		defer func() {
			stopServer()
			if err := <-srvErr; err != nil {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
	}

	if cfg.Output.Progress {
		progress := output.NewProgressReporter(r, cfg.Output.ProgressInterval, os.Stderr)
		progress.Start()
		defer func() {
			progress.Stop()
			fmt.Fprintln(os.Stderr)
		}()
	}

	_, err = r.Run(ctx)
	return err
}

func runnerOptions(cfg *config.Config, runID string, logger *zap.Logger, tp *tracing.Provider, stdout io.Writer) runner.Options {
	var tracer trace.Tracer
	if cfg.Tracing.Enabled() {
		tracer = tp.Tracer()
	}

	reporters := []runner.Reporter{&output.WriterReporter{W: stdout, Format: cfg.Output.Format}}
	if cfg.Output.File != "" {
		reporters = append(reporters, output.NewFileReporter(cfg.Output.File, cfg.Output.Format))
	}

	return runner.Options{
		MaxConcurrency:    cfg.Engine.MaxConcurrency,
		AssertionInterval: cfg.Engine.AssertionInterval,
		SnapshotInterval:  cfg.Engine.SnapshotInterval,
		SnapshotCapacity:  cfg.Engine.SnapshotCapacity,
		GracefulShutdown:  cfg.Engine.GracefulShutdown,
		ArrivalModel:      toRunnerArrivalModel(cfg.Engine.ArrivalModel),
		RandomSeed:        cfg.Engine.Seed,
		RunID:             runID,
		Logger:            logging.Component(logger, "runner"),
		Tracer:            tracer,
		Reporters:         reporters,
	}
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	if model == config.ArrivalModelPoisson {
		return runner.ArrivalModelPoisson
	}
	return runner.ArrivalModelUniform
}
