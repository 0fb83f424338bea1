package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"podconnect/internal/config"
	"podconnect/internal/core"
	"podconnect/internal/scheduler"
	"podconnect/internal/types"
)

// Cycler is the part of the Dispatcher a scheduled cycle drives.
type Cycler interface {
	DispatchAll(ctx context.Context) (*scheduler.CycleReport, error)
	EnqueueAll(ctx context.Context, enq scheduler.Enqueuer) (int, error)
}

// ErrTasksFailed is returned by a cycle in which at least one task failed.
var ErrTasksFailed = errors.New("one or more tasks failed")

// CycleJob returns the job a CronRunner triggers. In inline mode every task
// is dispatched in-process and the result is recorded on tracker; in queue
// mode each task is handed to enq for a dispatch worker.
func CycleJob(c Cycler, mode string, enq scheduler.Enqueuer, tracker *core.CycleTracker, logger *slog.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		if mode == config.ModeQueue {
			sent, err := c.EnqueueAll(ctx, enq)
			logger.InfoContext(ctx, "dispatch cycle fanned out", "enqueued", sent)
			return err
		}

		started := time.Now()
		report, err := c.DispatchAll(ctx)
		if err != nil {
			if tracker != nil {
				tracker.Record("", started, time.Since(started), types.CycleSummary{}, err)
			}
			return err
		}
		if tracker != nil {
			tracker.Record(report.CycleID, report.Started, report.Duration, report.Summary, nil)
		}
		if report.Failed() {
			return ErrTasksFailed
		}
		return nil
	}
}
