package connectors

import (
	"context"
	"sync"
	"time"

	"podconnect/internal/config"
	"podconnect/internal/types"
	"podconnect/internal/workerpool"
)

// collectingPool records submitted items without running them.
type collectingPool struct {
	items []workerpool.FetchItem
}

func (p *collectingPool) Submit(item workerpool.FetchItem) { p.items = append(p.items, item) }

func (p *collectingPool) Drain(context.Context) workerpool.Stats {
	return workerpool.Stats{Submitted: len(p.items)}
}

func (p *collectingPool) endpoints() []string {
	out := make([]string, len(p.items))
	for i, it := range p.items {
		out[i] = it.Endpoint
	}
	return out
}

func (p *collectingPool) byEndpoint(endpoint string) []workerpool.FetchItem {
	var out []workerpool.FetchItem
	for _, it := range p.items {
		if it.Endpoint == endpoint {
			out = append(out, it)
		}
	}
	return out
}

type posted struct {
	endpoint string
	meta     map[string]string
	data     any
	r        types.DateRange
}

type fakePoster struct {
	mu    sync.Mutex
	posts []posted
}

func (f *fakePoster) Post(_ context.Context, endpoint string, meta map[string]string, data any, r types.DateRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, posted{endpoint, meta, data, r})
	return nil
}

func testWorkers() config.WorkerConfig {
	return config.WorkerConfig{
		NumWorkers:        2,
		Strategy:          config.StrategyQueue,
		SpotifyNumWorkers: 2,
		SpotifyStrategy:   config.StrategyCooperative,
	}
}

var fixedNow = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func mustRange(start, end string) types.DateRange {
	r, err := types.ParseDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}
