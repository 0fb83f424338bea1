// Package scheduler dispatches podcast tasks: one locked, retried and
// time-bounded run per (account, source) row of the credential store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podconnect/internal/auth"
	"podconnect/internal/config"
	"podconnect/internal/connectors"
	"podconnect/internal/db"
	"podconnect/internal/external"
	"podconnect/internal/telemetry"
	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

// ErrCollectorUnavailable aborts a whole cycle: no task runs while the
// collector cannot accept data.
var ErrCollectorUnavailable = errors.New("collector unavailable")

const jobTypeTask = "connector_task"

// TaskStore reads the credential store.
type TaskStore interface {
	ListSources(ctx context.Context) ([]db.SourceRow, error)
	GetSource(ctx context.Context, accountID int64, sourceName string) (db.SourceRow, error)
}

// TaskLocker provides per-task mutual exclusion across processes.
type TaskLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// HistoryRecorder writes one job_history row per task.
type HistoryRecorder interface {
	Start(ctx context.Context, jobType string, subject string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// Decrypter turns a stored blob into a CredentialSet.
type Decrypter interface {
	Decrypt(blob string, passphrase types.SecretString) (types.CredentialSet, error)
}

// Refresher rotates OAuth tokens before source work starts.
type Refresher interface {
	Refresh(ctx context.Context, task *types.PodcastTask) auth.Result
}

// Collector is the per-task view of the Open Podcast API.
type Collector interface {
	workerpool.Poster
	Health(ctx context.Context) error
}

// CollectorFactory builds a fresh Collector for one task.
type CollectorFactory func(task types.PodcastTask) Collector

// Processors resolves the processor of a source.
type Processors interface {
	Processor(source types.Source) (*connectors.Processor, error)
}

// CycleReport is the result of one DispatchAll or DispatchOne call.
type CycleReport struct {
	CycleID  string
	Started  time.Time
	Duration time.Duration
	Outcomes []types.TaskOutcome
	Summary  types.CycleSummary
}

// Failed reports whether any task of the cycle failed.
func (r *CycleReport) Failed() bool {
	return r != nil && r.Summary.Failed > 0
}

// Deps holds the collaborators of a Dispatcher.
type Deps struct {
	Store        TaskStore
	Locker       TaskLocker
	History      HistoryRecorder
	Codec        Decrypter
	Refresher    Refresher
	Processors   Processors
	NewCollector CollectorFactory
	Metrics      telemetry.DispatchMetrics
	Logger       *slog.Logger
}

// Dispatcher runs dispatch cycles.
type Dispatcher struct {
	store        TaskStore
	locker       TaskLocker
	history      HistoryRecorder
	codec        Decrypter
	refresher    Refresher
	processors   Processors
	newCollector CollectorFactory
	metrics      telemetry.DispatchMetrics
	logger       *slog.Logger

	cfg        config.DispatchConfig
	collector  config.CollectorConfig
	passphrase types.SecretString
	workerID   string

	now   func() time.Time
	sleep external.SleepFunc
}

// NewDispatcher creates a Dispatcher. The worker ID used for lock ownership
// is unique per Dispatcher.
func NewDispatcher(deps Deps, dispatch config.DispatchConfig, collector config.CollectorConfig, passphrase types.SecretString) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	if dispatch.Parallelism < 1 {
		dispatch.Parallelism = 1
	}
	if collector.HealthRetries < 1 {
		collector.HealthRetries = 1
	}
	return &Dispatcher{
		store:        deps.Store,
		locker:       deps.Locker,
		history:      deps.History,
		codec:        deps.Codec,
		refresher:    deps.Refresher,
		processors:   deps.Processors,
		newCollector: deps.NewCollector,
		metrics:      metrics,
		logger:       logger,
		cfg:          dispatch,
		collector:    collector,
		passphrase:   passphrase,
		workerID:     "dispatcher-" + uuid.NewString(),
		now:          time.Now,
		sleep:        external.ContextSleep,
	}
}

// DispatchAll runs every configured task once. The only error returned is a
// failure to list tasks or ErrCollectorUnavailable; task failures are part of
// the report.
func (d *Dispatcher) DispatchAll(ctx context.Context) (*CycleReport, error) {
	report := d.newReport()
	ctx = types.WithCycleID(ctx, report.CycleID)
	logger := d.logger.With("cycle_id", report.CycleID)

	rows, err := d.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list podcast sources: %w", err)
	}
	logger.InfoContext(ctx, "dispatch cycle started", "tasks", len(rows))

	if len(rows) > 0 {
		if err := d.checkCollector(ctx); err != nil {
			logger.ErrorContext(ctx, "collector unavailable, aborting cycle", "error", err)
			return nil, err
		}
	}

	report.Outcomes = make([]types.TaskOutcome, len(rows))
	var g errgroup.Group
	g.SetLimit(d.cfg.Parallelism)
	for i, row := range rows {
		g.Go(func() error {
			report.Outcomes[i] = d.dispatch(ctx, row)
			return nil
		})
	}
	_ = g.Wait()

	d.finish(ctx, logger, report)
	return report, nil
}

// DispatchOne runs the single task identified by accountID and sourceName.
func (d *Dispatcher) DispatchOne(ctx context.Context, accountID int64, sourceName string) (*CycleReport, error) {
	report := d.newReport()
	ctx = types.WithCycleID(ctx, report.CycleID)
	logger := d.logger.With("cycle_id", report.CycleID)

	row, err := d.store.GetSource(ctx, accountID, sourceName)
	if err != nil {
		return nil, err
	}
	if err := d.checkCollector(ctx); err != nil {
		logger.ErrorContext(ctx, "collector unavailable, aborting dispatch", "error", err)
		return nil, err
	}

	report.Outcomes = []types.TaskOutcome{d.dispatch(ctx, row)}
	d.finish(ctx, logger, report)
	return report, nil
}

// Enqueuer sends one task to a dispatch worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, accountID int64, source string) error
}

// EnqueueAll fans every task out through enq instead of running it. Rows
// with an unknown source are logged and not enqueued.
func (d *Dispatcher) EnqueueAll(ctx context.Context, enq Enqueuer) (int, error) {
	ctx = types.WithCycleID(ctx, uuid.NewString())

	rows, err := d.store.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list podcast sources: %w", err)
	}

	var sent int
	var errs []error
	for _, row := range rows {
		task, err := row.ToTask()
		if err != nil {
			d.logger.ErrorContext(ctx, "not enqueuing task with unknown source",
				"account_id", row.AccountID, "source", row.SourceName, "error", err)
			continue
		}
		if err := enq.Enqueue(ctx, task.AccountID, string(task.Source)); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	d.logger.InfoContext(ctx, "tasks enqueued", "sent", sent, "total", len(rows), "errors", len(errs))
	return sent, errors.Join(errs...)
}

func (d *Dispatcher) newReport() *CycleReport {
	return &CycleReport{CycleID: uuid.NewString(), Started: d.now()}
}

func (d *Dispatcher) finish(ctx context.Context, logger *slog.Logger, report *CycleReport) {
	report.Duration = d.now().Sub(report.Started)
	report.Summary = types.Summarize(report.Outcomes)

	for _, o := range report.Outcomes {
		if o.Status == types.TaskStatusFailed {
			logger.WarnContext(ctx, "task failed",
				"account_id", o.AccountID,
				"source", string(o.Source),
				"pod_name", o.PodName,
				"reason", o.Reason,
				"attempts", o.Attempts)
		}
	}
	logger.InfoContext(ctx, "dispatch cycle finished",
		"succeeded", report.Summary.Succeeded,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
		"duration", report.Duration.String())
	d.metrics.RecordCycle(ctx, report.Summary, report.Duration)
}

// checkCollector probes the collector with a fixed delay between attempts.
func (d *Dispatcher) checkCollector(ctx context.Context) error {
	probe := d.newCollector(types.PodcastTask{})

	var err error
	for attempt := 1; attempt <= d.collector.HealthRetries; attempt++ {
		if err = probe.Health(ctx); err == nil {
			return nil
		}
		d.logger.WarnContext(ctx, "collector health check failed",
			"attempt", attempt, "max_attempts", d.collector.HealthRetries, "error", err)
		if attempt == d.collector.HealthRetries {
			break
		}
		if sleepErr := d.sleep(ctx, d.collector.HealthRetryDelay); sleepErr != nil {
			return fmt.Errorf("%w: %w", ErrCollectorUnavailable, sleepErr)
		}
	}
	return fmt.Errorf("%w: %w", ErrCollectorUnavailable, err)
}

// dispatch runs one row to a terminal outcome. It never returns an error;
// everything that went wrong is in the outcome.
func (d *Dispatcher) dispatch(ctx context.Context, row db.SourceRow) types.TaskOutcome {
	start := d.now()
	task, err := row.ToTask()
	out := types.TaskOutcome{AccountID: row.AccountID, Source: task.Source, PodName: row.PodName}
	if err != nil {
		out.Source = types.Source(row.SourceName)
		return d.fail(ctx, out, err, start)
	}

	logger := d.logger.With(task.LogAttrs()...).With("cycle_id", types.GetCycleID(ctx))
	ctx = types.WithLogger(ctx, logger)

	key := task.Key()
	acquired, err := d.locker.Acquire(ctx, key, d.workerID, d.cfg.LockTTL)
	if err != nil {
		return d.fail(ctx, out, err, start)
	}
	if !acquired {
		logger.InfoContext(ctx, "task already running elsewhere, skipping")
		out.Status = types.TaskStatusSkipped
		out.Reason = "already running"
		out.Duration = d.now().Sub(start)
		return out
	}
	defer func() {
		if err := d.locker.Release(context.WithoutCancel(ctx), key, d.workerID); err != nil {
			logger.WarnContext(ctx, "failed to release task lock", "error", err)
		}
	}()

	historyID, err := d.history.Start(ctx, jobTypeTask, key)
	if err != nil {
		logger.WarnContext(ctx, "failed to record job start", "error", err)
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	err = d.run(taskCtx, &task, &out)
	if err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = types.NewAppErrorWithDetails(types.ErrCodeTaskTimeout,
			fmt.Sprintf("task exceeded %s", d.cfg.TaskTimeout), err,
			map[string]any{"timeout": d.cfg.TaskTimeout.String()})
	}

	if err != nil {
		out = d.fail(ctx, out, err, start)
	} else {
		out.Status = types.TaskStatusSuccess
		out.Duration = d.now().Sub(start)
		d.metrics.RecordTask(ctx, task.Source, out.Status, out.Duration)
		logger.InfoContext(ctx, "task finished",
			"attempts", out.Attempts,
			"posted", out.Items.Posted,
			"failed_items", out.Items.Failed,
			"duration", out.Duration.String())
	}
	d.metrics.RecordItems(ctx, task.Source, out.Items)

	if historyID != 0 {
		if err := d.history.Finish(context.WithoutCancel(ctx), historyID, string(out.Status), out.Items.Posted, out.Err); err != nil {
			logger.WarnContext(ctx, "failed to record job result", "error", err)
		}
	}
	return out
}

// run decrypts, refreshes and processes the task, retrying transient
// failures of the processing step.
func (d *Dispatcher) run(ctx context.Context, task *types.PodcastTask, out *types.TaskOutcome) error {
	logger := types.LoggerFromContext(ctx, d.logger)

	creds, err := d.codec.Decrypt(task.EncryptedKeys, d.passphrase)
	if err != nil {
		return types.NewAppError(types.ErrCodeConfigInvalidTask, "failed to decode credentials", err)
	}
	task.Credentials = creds

	res := d.refresher.Refresh(ctx, task)
	if task.Source.SupportsRefresh() {
		d.metrics.RecordRefresh(ctx, task.Source, res.Outcome.String())
	}
	if !res.Outcome.Proceed() {
		if res.Ambiguous {
			return types.NewAppError(types.ErrCodeAuthReauthRequired,
				"token refresh outcome unknown, re-authentication required", res.Err)
		}
		return res.Err
	}

	processor, err := d.processors.Processor(task.Source)
	if err != nil {
		return err
	}

	maxAttempts := d.cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		stats, err := processor.Process(ctx, *task, d.newCollector(*task))
		out.Items.Add(stats)
		if err == nil {
			return nil
		}
		if !types.IsRetryable(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return err
		}
		logger.WarnContext(ctx, "task attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_in", d.cfg.RetryDelay.String(),
			"error", err)
		if sleepErr := d.sleep(ctx, d.cfg.RetryDelay); sleepErr != nil {
			return err
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, out types.TaskOutcome, err error, start time.Time) types.TaskOutcome {
	out.Status = types.TaskStatusFailed
	out.Err = err
	out.Reason = reason(err)
	out.Duration = d.now().Sub(start)

	logger := types.LoggerFromContext(ctx, d.logger)
	logger.ErrorContext(ctx, "task failed",
		"account_id", out.AccountID,
		"source", string(out.Source),
		"error_class", string(types.ClassOf(err)),
		"attempts", out.Attempts,
		"error", err)
	d.metrics.RecordTask(ctx, out.Source, out.Status, out.Duration)
	return out
}

// reason is the short failure reason kept in the summary.
func reason(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return err.Error()
}

// NewCollectorFactory builds the production CollectorFactory: one client
// per task, authenticated with the task's collector token.
func NewCollectorFactory(reg *external.ClientRegistry) CollectorFactory {
	return func(task types.PodcastTask) Collector {
		return reg.Collector(external.CollectorConfig{
			Token:    types.SecretString(task.Credentials.Get(types.KeyCollectorToken, "")),
			Provider: task.Source,
			ShowID:   connectors.ShowID(task),
		})
	}
}
