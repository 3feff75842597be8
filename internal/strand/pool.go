// Package strand implements the L0 concurrency substrate: a fixed worker
// pool shared by many strands, where a strand is a FIFO of callbacks
// guaranteed never to run two-at-once. This generalizes the teacher's own
// per-actor goroutine+channel idiom (see Messenger.messenger()'s select
// loop over a quit channel) from "one dedicated goroutine per actor" to
// "one logical queue per actor, drained by a shared pool" — the actor
// count in a full mesh of peers would otherwise mean one OS-backed
// goroutine scheduling slot per channel, which is the thing a strand
// model avoids.
package strand

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is the shared worker pool. Its concurrency is bounded by a weighted
// semaphore (§SPEC_FULL.md domain stack) rather than an unbounded
// goroutine-per-task scheme.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool with size workers. size <= 0 defaults to
// runtime.GOMAXPROCS(0), matching spec.md §5's "default = hardware
// concurrency".
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{sem: semaphore.NewWeighted(int64(size)), ctx: ctx, cancel: cancel}
}

// Go runs f on a pool-managed goroutine once a worker slot is free. It
// never blocks the caller: the new goroutine itself waits for the slot,
// and f runs asynchronously.
func (p *Pool) Go(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return // pool stopped before a slot freed up
		}
		defer p.sem.Release(1)
		f()
	}()
}

// Stop cancels pending acquisitions and waits for in-flight work to drain.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Done reports whether the pool has been stopped.
func (p *Pool) Done() <-chan struct{} {
	return p.ctx.Done()
}
