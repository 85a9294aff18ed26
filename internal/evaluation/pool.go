package evaluation

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many model runs execute at once across all drafts.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	wg   sync.WaitGroup
}

// NewPool creates a pool with the given concurrency limit (minimum 1).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Go enqueues a task without blocking the caller. The task runs once a slot is free; after releases
// the slot and then runs outside of it.
func (p *Pool) Go(task func(), after func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Acquire only fails on context cancellation and the background context never cancels.
		_ = p.sem.Acquire(context.Background(), 1)
		func() {
			defer p.sem.Release(1)
			task()
		}()
		if after != nil {
			after()
		}
	}()
}

// Wait blocks until every enqueued task finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
