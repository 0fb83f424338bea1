package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CooperativePool starts one goroutine per item and gates execution with a
// weighted semaphore, so an item begins only when a slot frees. It suits
// source clients that are cheap to run concurrently.
type CooperativePool struct {
	*runner

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	// mu orders Submit against Drain so no goroutine is added once Drain waits.
	mu     sync.Mutex
	closed bool
}

// NewCooperativePool creates a pool that allows opts.Workers items in flight.
func NewCooperativePool(ctx context.Context, poster Poster, opts Options) *CooperativePool {
	ctx, cancel := context.WithCancel(ctx)
	return &CooperativePool{
		runner: newRunner(poster, opts),
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(max(opts.Workers, 1))),
	}
}

// Submit schedules item. Items submitted after Drain are counted as cancelled.
func (p *CooperativePool) Submit(item FetchItem) {
	p.submitted()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.WarnContext(p.ctx, "item submitted to a closed pool", "endpoint", item.Endpoint)
		p.count(resultCancelled, 1)
		return
	}
	p.wg.Go(func() {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.count(resultCancelled, 1)
			return
		}
		defer p.sem.Release(1)
		p.execute(p.ctx, item)
	})
}

// Drain waits for every scheduled item. If ctx ends first, items still
// waiting for a slot are cancelled and in-flight fetches see a cancelled context.
func (p *CooperativePool) Drain(ctx context.Context) Stats {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	return p.snapshot()
}
