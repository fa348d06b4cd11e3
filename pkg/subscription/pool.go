package subscription

import (
	"context"
	"sync"
)

// Pool runs jobs on a fixed set of workers fed by a bounded backlog
type Pool struct {
	ctx     context.Context
	jobs    chan func(context.Context)
	wg      sync.WaitGroup
	onPanic func(recovered interface{})

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. Jobs still queued when ctx is
// cancelled are discarded.
func NewPool(ctx context.Context, workers, backlog int, onPanic func(interface{})) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	p := &Pool{
		ctx:     ctx,
		jobs:    make(chan func(context.Context), backlog),
		onPanic: onPanic,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

// Submit queues job without blocking. It returns false when the backlog is
// full or the pool is closed.
func (p *Pool) Submit(job func(context.Context)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for the workers to finish the backlog
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		p.run(job)
	}
}

func (p *Pool) run(job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	job(p.ctx)
}
