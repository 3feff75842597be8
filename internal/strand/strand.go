package strand

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Strand is a logical FIFO of callbacks that runs at most one callback at a
// time, on some goroutine drawn from the owning Pool. Pinning a stateful
// actor (socket, channel, session) to one Strand means the actor's fields
// need no locks: every mutation happens on a callback that strand.post
// serialized against all the others.
type Strand struct {
	pool     *Pool
	mu       sync.Mutex
	queue    []func()
	draining bool
	stopped  bool

	runnerGoroutine atomic.Int64 // goroutine id currently draining, 0 if idle
}

// New creates a strand drained by pool.
func New(pool *Pool) *Strand {
	return &Strand{pool: pool}
}

// Post enqueues f to run on the strand. Never blocks. If the strand is
// stopped, f is dropped silently — callers that need a guaranteed callback
// after stop should use a subscriber's stop notification instead (§4.3).
func (s *Strand) Post(f func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, f)
	shouldDrain := !s.draining
	s.draining = true
	s.mu.Unlock()

	if shouldDrain {
		s.pool.Go(s.drain)
	}
}

// Stop marks the strand stopped; queued-but-not-yet-run callbacks are
// discarded. In-flight drains finish naturally.
func (s *Strand) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *Strand) drain() {
	s.runnerGoroutine.Store(goroutineID())
	defer s.runnerGoroutine.Store(0)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.stopped {
			s.draining = false
			s.mu.Unlock()
			return
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		f()
	}
}

// RunningInThisStrand reports whether the calling goroutine is currently
// executing a callback drained from this strand. It is an assertion aid
// (see spec.md §4.1's running_in_this_thread()), not a synchronization
// primitive — never branch production logic on it, only assert invariants
// with it.
func (s *Strand) RunningInThisStrand() bool {
	return s.runnerGoroutine.Load() == goroutineID()
}

// goroutineID recovers the calling goroutine's id for assertion purposes
// only, by parsing the runtime stack trace header. It is intentionally not
// used anywhere on a hot path.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func assertFailed(s *Strand, op string) {
	panic(fmt.Sprintf("strand: %s called off-strand", op))
}

// MustBeOnStrand panics if not currently executing on s. Intended for use
// at the top of methods that document a strand-only contract.
func MustBeOnStrand(s *Strand, op string) {
	if !s.RunningInThisStrand() {
		assertFailed(s, op)
	}
}
