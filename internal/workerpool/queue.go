package workerpool

import (
	"context"
	"sync"
)

// QueuePool runs a fixed number of long-lived workers over a FIFO queue.
// Items start in submission order.
type QueuePool struct {
	*runner

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []FetchItem
	closed bool

	wg   sync.WaitGroup
	stop func() bool
}

// NewQueuePool starts opts.Workers workers bound to ctx.
func NewQueuePool(ctx context.Context, poster Poster, opts Options) *QueuePool {
	ctx, cancel := context.WithCancel(ctx)
	p := &QueuePool{
		runner: newRunner(poster, opts),
		ctx:    ctx,
		cancel: cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	// Wake idle workers when the task is cancelled.
	p.stop = context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})

	for range max(opts.Workers, 1) {
		p.wg.Go(p.work)
	}
	return p
}

// Submit enqueues item. Items submitted after Drain or after cancellation are
// counted as cancelled.
func (p *QueuePool) Submit(item FetchItem) {
	p.submitted()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ctx.Err() != nil {
		p.logger.WarnContext(p.ctx, "item submitted to a closed pool", "endpoint", item.Endpoint)
		p.count(resultCancelled, 1)
		return
	}
	p.queue = append(p.queue, item)
	p.cond.Signal()
}

// Drain closes the queue and waits for the workers to finish it. If ctx ends
// first, remaining items are cancelled.
func (p *QueuePool) Drain(ctx context.Context) Stats {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
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
	p.stop()
	p.cancel()
	return p.snapshot()
}

func (p *QueuePool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed && p.ctx.Err() == nil {
			p.cond.Wait()
		}
		if p.ctx.Err() != nil {
			dropped := len(p.queue)
			p.queue = nil
			p.mu.Unlock()
			if dropped > 0 {
				p.count(resultCancelled, dropped)
			}
			return
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue[0] = FetchItem{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.execute(p.ctx, item)
	}
}
