package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions and descriptors such as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cycleLockID is held while a scheduled cycle runs so two schedulers never overlap.
const cycleLockID = "scheduler:dispatch-cycle"

// ValidateCronExpr checks a schedule expression.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Job is what a CronRunner triggers.
type Job func(ctx context.Context) error

// CronRunner triggers a Job on a cron schedule in UTC.
type CronRunner struct {
	expr     string
	schedule cron.Schedule
	locker   TaskLocker
	lockTTL  time.Duration
	job      Job
	logger   *slog.Logger
	workerID string

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

// NewCronRunner parses expr and returns a runner for job.
func NewCronRunner(expr string, locker TaskLocker, lockTTL time.Duration, job Job, logger *slog.Logger) (*CronRunner, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronRunner{
		expr:     expr,
		schedule: schedule,
		locker:   locker,
		lockTTL:  lockTTL,
		job:      job,
		logger:   logger,
		workerID: "scheduler-" + uuid.NewString(),
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Next returns the first trigger time after from.
func (r *CronRunner) Next(from time.Time) time.Time {
	return r.schedule.Next(from.UTC())
}

// Run waits for each trigger and runs the job until ctx is cancelled. Job
// errors are logged; they never stop the loop.
func (r *CronRunner) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		next := r.Next(r.now())
		r.logger.InfoContext(ctx, "next dispatch cycle scheduled",
			"schedule", r.expr,
			"next_run", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-r.after(next.Sub(r.now())):
		}

		if _, err := r.Tick(ctx); err != nil {
			r.logger.ErrorContext(ctx, "scheduled cycle failed", "error", err)
		}
	}
	return nil
}

// Tick runs the job once under the scheduler-wide lock. It reports false
// without error when another scheduler holds the lock.
func (r *CronRunner) Tick(ctx context.Context) (bool, error) {
	acquired, err := r.locker.Acquire(ctx, cycleLockID, r.workerID, r.lockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		r.logger.InfoContext(ctx, "another scheduler is running the cycle, skipping")
		return false, nil
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), cycleLockID, r.workerID); err != nil {
			r.logger.WarnContext(ctx, "failed to release scheduler lock", "error", err)
		}
	}()

	return true, r.job(ctx)
}
