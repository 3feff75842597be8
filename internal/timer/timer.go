// Package timer implements the L0 deadline timer: a one-shot, cancellable
// timer bound to a strand, used as the retry/backoff primitive throughout
// sessions and channels (outbound connect backoff, ping scheduling,
// inactivity detection).
package timer

import (
	"sync"
	"time"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
)

// Handler is invoked on the owning strand when the timer fires or is
// superseded. code is errs.Success on expiry, errs.OperationCanceled when
// a later Start or a Stop preempted this arming.
type Handler func(code errs.Code)

// Timer is a single-shot, re-armable deadline timer bound to a strand.
type Timer struct {
	strand *strand.Strand

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	pending Handler
}

// New creates a timer whose handlers are always posted to s.
func New(s *strand.Strand) *Timer {
	return &Timer{strand: s}
}

// Start arms the timer to fire h(errs.Success) after d, on the owning
// strand. Any previously pending arming is superseded: its handler (if it
// has not already fired) is posted with errs.OperationCanceled.
func (t *Timer) Start(d time.Duration, h Handler) {
	t.mu.Lock()
	t.supersede()
	t.gen++
	myGen := t.gen
	t.pending = h
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.fire(myGen)
	})
	t.mu.Unlock()
}

// supersede posts errs.OperationCanceled to any handler still pending.
// Caller must hold t.mu.
func (t *Timer) supersede() {
	if t.pending != nil {
		prev := t.pending
		t.pending = nil
		t.strand.Post(func() { prev(errs.OperationCanceled) })
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.pending == nil {
		t.mu.Unlock()
		return
	}
	h := t.pending
	t.pending = nil
	t.mu.Unlock()
	t.strand.Post(func() { h(errs.Success) })
}

// Stop cancels any pending arming, posting errs.OperationCanceled to its
// handler if it had not already fired.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.supersede()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}
