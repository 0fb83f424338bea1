// Package main is the connector-manager daemon.
//
// It triggers a dispatch cycle on DISPATCH_SCHEDULE (daily at 11:00 UTC by
// default) and serves /health, /status and, with the Prometheus backend,
// /metrics on METRICS_ADDR.
//
// In inline mode (DISPATCH_MODE=inline) every task runs in-process. In queue
// mode each task is sent to SQS_TASK_QUEUE and executed by dispatch-worker.
//
// Usage:
//
//	connector-manager           # run on schedule until SIGINT/SIGTERM
//	connector-manager --once    # run one cycle now and exit
//
// With --once the exit code is 0 only when every task succeeded or was
// skipped; an unavailable collector or any failed task exits 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"podconnect/internal/app"
	"podconnect/internal/config"
	"podconnect/internal/core"
	"podconnect/internal/scheduler"
)

func main() {
	once := flag.Bool("once", false, "Run a single dispatch cycle and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *once); err != nil {
		slog.Error("connector-manager exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, once bool) error {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var enq scheduler.Enqueuer
	if cfg.Dispatch.Mode == config.ModeQueue {
		if enq, err = a.Enqueuer(ctx); err != nil {
			return err
		}
	}

	tracker := &core.CycleTracker{}
	job := app.CycleJob(a.Dispatcher, cfg.Dispatch.Mode, enq, tracker, logger)

	runner, err := scheduler.NewCronRunner(cfg.Dispatch.Schedule, a.Locks, cfg.Dispatch.LockTTL, job, logger)
	if err != nil {
		return err
	}

	if once {
		ran, err := runner.Tick(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return errors.New("another scheduler holds the dispatch lock")
		}
		return nil
	}

	srv, err := core.NewServer(logger, tracker)
	if err != nil {
		return err
	}
	srv.HealthProbes = a.HealthProbes()
	srv.Metrics = a.MetricsHandler
	srv.MountRoutes()

	logger.Info("connector-manager started",
		"mode", cfg.Dispatch.Mode,
		"schedule", cfg.Dispatch.Schedule,
		"addr", cfg.Observability.HTTPAddr,
		"commit", cfg.Build.Commit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Observability.HTTPAddr) })
	g.Go(func() error { return runner.Run(gctx) })
	return g.Wait()
}
