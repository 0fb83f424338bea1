// Package connectors turns one podcast task into the fetch items of its
// source and runs them through a worker pool.
package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"podconnect/internal/config"
	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

// Planner enumerates the fetch items of one task and submits them to pool.
// Planning may call the source (episode listings, podcast lookups); the
// returned error aborts the task.
type Planner interface {
	Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error

func (f PlannerFunc) Plan(ctx context.Context, task types.PodcastTask, r types.DateRange, pool workerpool.Pool) error {
	return f(ctx, task, r, pool)
}

// Processor runs one source's tasks: validate, resolve the window, plan, and
// drain the pool.
type Processor struct {
	source   types.Source
	planner  Planner
	settings config.PoolSettings
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// Process executes task and returns the item totals. Items post through
// poster, which is expected to be a per-task collector client.
func (p *Processor) Process(ctx context.Context, task types.PodcastTask, poster workerpool.Poster) (types.ItemStats, error) {
	logger := types.LoggerFromContext(ctx, p.logger)

	if err := Validate(task); err != nil {
		return types.ItemStats{}, err
	}
	r, err := Window(task, p.now())
	if err != nil {
		return types.ItemStats{}, err
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := workerpool.New(poolCtx, poster, workerpool.Options{
		Strategy: workerpool.Strategy(p.settings.Strategy),
		Workers:  p.settings.Workers,
		Delay:    p.settings.Delay,
		Limiter:  p.limiter,
		Logger:   logger,
	})
	if err != nil {
		return types.ItemStats{}, err
	}

	logger.InfoContext(ctx, "planning task", "range", r.String(), "workers", p.settings.Workers, "strategy", p.settings.Strategy)
	planErr := p.planner.Plan(poolCtx, task, r, pool)
	if planErr != nil {
		cancel()
	}
	stats := pool.Drain(ctx)

	if planErr != nil {
		return stats, planErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	logger.InfoContext(ctx, "task items finished",
		"submitted", stats.Submitted,
		"posted", stats.Posted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled)
	return stats, nil
}

// Source returns the source the processor serves.
func (p *Processor) Source() types.Source { return p.source }

// Registry maps each source to its Processor.
type Registry struct {
	processors map[types.Source]*Processor
	workers    config.WorkerConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry creates an empty registry using workers to size each source's pool.
func NewRegistry(workers config.WorkerConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		processors: make(map[types.Source]*Processor),
		workers:    workers,
		logger:     logger,
		now:        time.Now,
	}
}

// Register binds planner to source. The source's rate limiter, when
// configured, is shared by all of its tasks.
func (r *Registry) Register(source types.Source, planner Planner) {
	settings := r.workers.ForSource(source)
	var limiter *rate.Limiter
	if settings.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(settings.RequestsPerSecond), 1)
	}
	r.processors[source] = &Processor{
		source:   source,
		planner:  planner,
		settings: settings,
		limiter:  limiter,
		logger:   r.logger,
		now:      r.now,
	}
}

// Processor returns the processor of source.
func (r *Registry) Processor(source types.Source) (*Processor, error) {
	p, ok := r.processors[source]
	if !ok {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConfigUnsupportedSource,
			fmt.Sprintf("no processor registered for source %q", source), nil,
			map[string]any{"source": string(source)})
	}
	return p, nil
}

// Factories holds the per-source API client constructors. A nil factory
// leaves the source registered but failing with a configuration error.
type Factories struct {
	Podigee PodigeeFactory
	Spotify SpotifyFactory
	Apple   AppleFactory
	Anchor  AnchorFactory
}

// NewSourceRegistry registers a planner for every supported source.
func NewSourceRegistry(workers config.WorkerConfig, logger *slog.Logger, f Factories) *Registry {
	r := NewRegistry(workers, logger)
	r.Register(types.SourcePodigee, NewPodigeePlanner(f.Podigee))
	r.Register(types.SourceSpotify, NewSpotifyPlanner(f.Spotify))
	r.Register(types.SourceApple, NewApplePlanner(f.Apple))
	r.Register(types.SourceAnchor, NewAnchorPlanner(f.Anchor))
	return r
}

// unlinked is the planner used when a source's API client is not built
// into this binary.
func unlinked(source types.Source) Planner {
	return PlannerFunc(func(context.Context, types.PodcastTask, types.DateRange, workerpool.Pool) error {
		return types.NewAppError(types.ErrCodeConfigUnsupportedSource,
			fmt.Sprintf("no %s API client is linked into this build", source), nil)
	})
}
