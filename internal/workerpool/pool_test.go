package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"podconnect/internal/types"
)

type post struct {
	endpoint string
	meta     map[string]string
	data     any
}

type recordingPoster struct {
	mu    sync.Mutex
	posts []post
	fail  map[string]error
}

func (p *recordingPoster) Post(_ context.Context, endpoint string, meta map[string]string, data any, _ types.DateRange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[endpoint]; err != nil {
		return err
	}
	p.posts = append(p.posts, post{endpoint: endpoint, meta: meta, data: data})
	return nil
}

func (p *recordingPoster) endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.posts))
	for i, pp := range p.posts {
		out[i] = pp.endpoint
	}
	return out
}

func value(v any) FetchFunc {
	return func(context.Context) (any, error) { return v, nil }
}

func failing(err error) FetchFunc {
	return func(context.Context) (any, error) { return nil, err }
}

var strategies = []Strategy{StrategyQueue, StrategyCooperative}

func newPool(t *testing.T, ctx context.Context, strategy Strategy, poster Poster, workers int) Pool {
	t.Helper()
	p, err := New(ctx, poster, Options{Strategy: strategy, Workers: workers, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	return p
}

func TestPool_MixedResults(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			poster := &recordingPoster{fail: map[string]error{"rejected": errors.New("collector returned 500")}}
			p := newPool(t, context.Background(), strategy, poster, 2)

			p.Submit(FetchItem{Endpoint: "metadata", Fetch: value(map[string]any{"name": "Show"})})
			p.Submit(FetchItem{Endpoint: "metrics", Fetch: value([]int{1, 2})})
			p.Submit(FetchItem{Endpoint: "episodes", Fetch: failing(ErrNotFound)})
			p.Submit(FetchItem{Endpoint: "broken", Fetch: failing(errors.New("source exploded"))})
			p.Submit(FetchItem{Endpoint: "rejected", Fetch: value("payload")})

			stats := p.Drain(context.Background())
			assert.Equal(t, Stats{Submitted: 5, Posted: 2, Skipped: 1, Failed: 2}, stats)
			assert.ElementsMatch(t, []string{"metadata", "metrics"}, poster.endpoints())
		})
	}
}

func TestPool_OneErrorOneNoData(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			poster := &recordingPoster{}
			p := newPool(t, context.Background(), strategy, poster, 2)

			p.Submit(FetchItem{Endpoint: "podcast-metadata", Fetch: value(map[string]any{"title": "Show"})})
			p.Submit(FetchItem{Endpoint: "podcast-analytics", Fetch: failing(errors.New("connection reset"))})
			p.Submit(FetchItem{Endpoint: "episode-1-metadata", Fetch: value(map[string]any{"id": 1})})
			p.Submit(FetchItem{Endpoint: "episode-1-analytics", Fetch: failing(ErrNotFound)})
			p.Submit(FetchItem{Endpoint: "episode-2-metadata", Fetch: value(map[string]any{"id": 2})})

			stats := p.Drain(context.Background())
			assert.Equal(t, Stats{Submitted: 5, Posted: 3, Skipped: 1, Failed: 1}, stats)
			assert.ElementsMatch(t,
				[]string{"podcast-metadata", "episode-1-metadata", "episode-2-metadata"},
				poster.endpoints())
		})
	}
}

func TestPool_EmptyResultsAreNotPosted(t *testing.T) {
	var nilMap map[string]any
	empties := []any{nil, "", []any{}, map[string]any{}, nilMap, (*struct{})(nil)}

	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			poster := &recordingPoster{}
			p := newPool(t, context.Background(), strategy, poster, 3)
			for i, v := range empties {
				p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: value(v)})
			}
			stats := p.Drain(context.Background())

			assert.Equal(t, len(empties), stats.Skipped)
			assert.Empty(t, poster.endpoints())
		})
	}
}

func TestPool_NotFoundAppErrorIsSkipped(t *testing.T) {
	poster := &recordingPoster{}
	p := newPool(t, context.Background(), StrategyQueue, poster, 1)
	p.Submit(FetchItem{Endpoint: "episode", Fetch: failing(types.NewAppError(types.ErrCodeNotFoundResource, "gone", nil))})
	p.Submit(FetchItem{Endpoint: "wrapped", Fetch: failing(fmt.Errorf("episode 12: %w", ErrNotFound))})

	stats := p.Drain(context.Background())
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			var inFlight, peak atomic.Int32
			fetch := func(context.Context) (any, error) {
				n := inFlight.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return "ok", nil
			}

			p := newPool(t, context.Background(), strategy, &recordingPoster{}, 2)
			for i := 0; i < 10; i++ {
				p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: fetch})
			}
			stats := p.Drain(context.Background())

			assert.Equal(t, 10, stats.Posted)
			assert.LessOrEqual(t, peak.Load(), int32(2))
		})
	}
}

func TestQueuePool_SingleWorkerKeepsOrder(t *testing.T) {
	poster := &recordingPoster{}
	p := newPool(t, context.Background(), StrategyQueue, poster, 1)
	for _, e := range []string{"a", "b", "c", "d"} {
		p.Submit(FetchItem{Endpoint: e, Fetch: value(e)})
	}
	p.Drain(context.Background())
	assert.Equal(t, []string{"a", "b", "c", "d"}, poster.endpoints())
}

func TestPool_PanicIsolated(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			poster := &recordingPoster{}
			p := newPool(t, context.Background(), strategy, poster, 1)
			p.Submit(FetchItem{Endpoint: "boom", Fetch: func(context.Context) (any, error) { panic("nil map") }})
			p.Submit(FetchItem{Endpoint: "fine", Fetch: value(1)})

			stats := p.Drain(context.Background())
			assert.Equal(t, 1, stats.Failed)
			assert.Equal(t, 1, stats.Posted)
		})
	}
}

func TestPool_CancellationStopsQueuedItems(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			started := make(chan struct{})
			var once sync.Once
			blocking := func(ctx context.Context) (any, error) {
				once.Do(func() { close(started) })
				<-ctx.Done()
				return nil, ctx.Err()
			}

			p := newPool(t, ctx, strategy, &recordingPoster{}, 1)
			for i := 0; i < 5; i++ {
				p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: blocking})
			}
			<-started
			cancel()

			stats := p.Drain(context.Background())
			assert.Equal(t, 5, stats.Submitted)
			assert.Equal(t, 5, stats.Cancelled)
			assert.Equal(t, 0, stats.Posted)
		})
	}
}

func TestPool_DrainDeadlineCancelsRemaining(t *testing.T) {
	p := newPool(t, context.Background(), StrategyQueue, &recordingPoster{}, 1)
	for i := 0; i < 3; i++ {
		p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	stats := p.Drain(ctx)
	assert.Equal(t, 3, stats.Cancelled)
}

func TestPool_SubmitAfterDrainIsCancelled(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			p := newPool(t, context.Background(), strategy, &recordingPoster{}, 1)
			p.Drain(context.Background())
			p.Submit(FetchItem{Endpoint: "late", Fetch: value(1)})
			stats := p.Drain(context.Background())
			assert.Equal(t, Stats{Submitted: 1, Cancelled: 1}, stats)
		})
	}
}

func TestPool_SubmitRacingDrainIsAccounted(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			poster := &recordingPoster{}
			p := newPool(t, context.Background(), strategy, poster, 4)

			var wg sync.WaitGroup
			for g := range 4 {
				wg.Go(func() {
					for i := range 25 {
						p.Submit(FetchItem{Endpoint: fmt.Sprintf("g%d-%d", g, i), Fetch: value("x")})
					}
				})
			}
			p.Drain(context.Background())
			wg.Wait()

			var stats Stats
			switch pool := p.(type) {
			case *QueuePool:
				stats = pool.snapshot()
			case *CooperativePool:
				stats = pool.snapshot()
			}
			assert.Equal(t, 100, stats.Submitted)
			assert.Equal(t, stats.Submitted, stats.Posted+stats.Cancelled)
			assert.Len(t, poster.endpoints(), stats.Posted)
		})
	}
}

func TestPool_PacingDelay(t *testing.T) {
	p, err := New(context.Background(), &recordingPoster{}, Options{
		Strategy: StrategyQueue,
		Workers:  1,
		Delay:    25 * time.Millisecond,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: value(i + 1)})
	}
	stats := p.Drain(context.Background())
	assert.Equal(t, 3, stats.Posted)
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestPool_RateLimiter(t *testing.T) {
	p, err := New(context.Background(), &recordingPoster{}, Options{
		Strategy: StrategyCooperative,
		Workers:  4,
		Limiter:  rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 4; i++ {
		p.Submit(FetchItem{Endpoint: fmt.Sprintf("e%d", i), Fetch: value(i + 1)})
	}
	stats := p.Drain(context.Background())
	assert.Equal(t, 4, stats.Posted)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestNew_UnknownStrategy(t *testing.T) {
	_, err := New(context.Background(), &recordingPoster{}, Options{Strategy: "threads"})
	require.Error(t, err)
	assert.Equal(t, types.ClassConfiguration, types.ClassOf(err))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, isEmpty(nil))
	assert.True(t, isEmpty(""))
	assert.True(t, isEmpty([]string{}))
	assert.False(t, isEmpty(0))
	assert.False(t, isEmpty(false))
	assert.False(t, isEmpty(map[string]int{"a": 1}))
	assert.False(t, isEmpty(&struct{}{}))
}
