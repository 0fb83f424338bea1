// Package workerpool runs the fetch-then-post items of one task under
// bounded concurrency. Each item fetches one endpoint from a source and posts
// the result to the collector; failures stay confined to their item.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"podconnect/internal/types"
)

// ErrNotFound is returned by a FetchFunc when the source has no data for the
// item. The pool logs it at info level and counts the item as skipped.
var ErrNotFound = errors.New("resource not found")

// IsNotFound reports whether err means "no data" rather than a failure.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code.Class() == types.ClassDataAbsent
}

// FetchFunc retrieves one endpoint's payload.
type FetchFunc func(ctx context.Context) (any, error)

// FetchItem is one endpoint fetch and the post of its result.
type FetchItem struct {
	Endpoint string
	Fetch    FetchFunc
	Range    types.DateRange
	Meta     map[string]string
}

// Poster delivers a fetched payload. CollectorClient implements it.
type Poster interface {
	Post(ctx context.Context, endpoint string, meta map[string]string, data any, r types.DateRange) error
}

// Stats counts item results. Submitted always equals the sum of the others
// once Drain has returned.
type Stats = types.ItemStats

// Pool accepts items and runs them. Drain stops intake, waits for every
// accepted item and returns the totals.
type Pool interface {
	Submit(item FetchItem)
	Drain(ctx context.Context) Stats
}

// Strategy selects the pool implementation.
type Strategy string

const (
	StrategyQueue       Strategy = "queue"
	StrategyCooperative Strategy = "cooperative"
)

// Options configures a pool.
type Options struct {
	Strategy Strategy
	// Workers is the maximum number of items in flight. Values below 1 mean 1.
	Workers int
	// Delay is slept by a worker after each item before it takes the next one.
	Delay time.Duration
	// Limiter, when set, gates the start of every fetch.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// New builds the pool named by opts.Strategy. Items run under ctx; cancelling
// it cancels queued and in-flight items.
func New(ctx context.Context, poster Poster, opts Options) (Pool, error) {
	switch opts.Strategy {
	case StrategyQueue, "":
		return NewQueuePool(ctx, poster, opts), nil
	case StrategyCooperative:
		return NewCooperativePool(ctx, poster, opts), nil
	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalidTask,
			fmt.Sprintf("unknown pool strategy %q", opts.Strategy), nil)
	}
}

// runner holds what both strategies share: executing one item and counting
// the result.
type runner struct {
	poster  Poster
	delay   time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func newRunner(poster Poster, opts Options) *runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &runner{
		poster:  poster,
		delay:   opts.Delay,
		limiter: opts.Limiter,
		logger:  logger,
	}
}

type result int

const (
	resultPosted result = iota
	resultSkipped
	resultFailed
	resultCancelled
)

func (r *runner) count(res result, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch res {
	case resultPosted:
		r.stats.Posted += n
	case resultSkipped:
		r.stats.Skipped += n
	case resultFailed:
		r.stats.Failed += n
	case resultCancelled:
		r.stats.Cancelled += n
	}
}

func (r *runner) submitted() {
	r.mu.Lock()
	r.stats.Submitted++
	r.mu.Unlock()
}

func (r *runner) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// execute runs one item and records its result, then sleeps the pacing delay.
func (r *runner) execute(ctx context.Context, item FetchItem) {
	r.count(r.run(ctx, item), 1)
	if r.delay > 0 && ctx.Err() == nil {
		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
}

func (r *runner) run(ctx context.Context, item FetchItem) (res result) {
	logger := types.LoggerFromContext(ctx, r.logger).With("endpoint", item.Endpoint)
	if ep, ok := item.Meta["episode"]; ok {
		logger = logger.With("episode", ep)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "fetch item panicked", "panic", fmt.Sprint(p))
			res = resultFailed
		}
	}()

	if ctx.Err() != nil {
		return resultCancelled
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return resultCancelled
		}
	}

	data, err := item.Fetch(ctx)
	if err != nil {
		switch {
		case IsNotFound(err):
			logger.InfoContext(ctx, "no data for endpoint", "reason", err.Error())
			return resultSkipped
		case ctx.Err() != nil:
			return resultCancelled
		default:
			logger.ErrorContext(ctx, "failed to fetch endpoint", "error", err)
			return resultFailed
		}
	}
	if isEmpty(data) {
		logger.DebugContext(ctx, "empty result, nothing to post")
		return resultSkipped
	}

	if err := r.poster.Post(ctx, item.Endpoint, item.Meta, data, item.Range); err != nil {
		if ctx.Err() != nil {
			return resultCancelled
		}
		logger.ErrorContext(ctx, "failed to post endpoint result", "error", err)
		return resultFailed
	}
	logger.DebugContext(ctx, "posted endpoint result")
	return resultPosted
}

// isEmpty treats nil, nil pointers and zero-length strings, maps and slices as
// "nothing fetched".
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
