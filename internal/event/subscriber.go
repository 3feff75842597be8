// Package event implements the L0 typed Subscriber/Broadcaster: a
// strand-bound list of handlers notified in subscription order, grounded
// on the teacher's event.TypeMux (subscribe/post/stop over a registered
// list of receivers) but narrowed to one concrete payload type per
// Subscriber instance via generics instead of TypeMux's reflect.Type
// dispatch, and bound to a strand instead of an unbuffered channel per
// subscriber — matching spec.md §4.3's "all on owner strand" contract.
package event

import (
	"sync"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
)

// Handler receives a notification. Returning false unsubscribes it.
type Handler[T any] func(code errs.Code, args T) bool

type entry[T any] struct {
	id int
	fn Handler[T]
}

// Subscriber is a typed, strand-bound broadcaster.
type Subscriber[T any] struct {
	strand *strand.Strand

	mu      sync.Mutex
	nextID  int
	entries []entry[T]
	stopped bool
}

// New creates a subscriber whose notifications are posted to s.
func New[T any](s *strand.Strand) *Subscriber[T] {
	return &Subscriber[T]{strand: s}
}

// Subscribe registers h. Fails immediately (not posted) with
// errs.SubscriberStopped if Stop has already run.
func (s *Subscriber[T]) Subscribe(h Handler[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errs.New(errs.SubscriberStopped, "subscribe after stop")
	}
	s.nextID++
	s.entries = append(s.entries, entry[T]{id: s.nextID, fn: h})
	return nil
}

// Notify posts h(errs.Success, args) to the strand for every current
// handler, in subscription order. Delivery to any one handler is strictly
// ordered relative to that handler's other deliveries; relative order
// across different handlers is unspecified (spec.md §4.3).
func (s *Subscriber[T]) Notify(args T) {
	s.mu.Lock()
	entries := append([]entry[T](nil), s.entries...)
	s.mu.Unlock()

	for _, e := range entries {
		e := e
		s.strand.Post(func() {
			if !e.fn(errs.Success, args) {
				s.unsubscribe(e.id)
			}
		})
	}
}

func (s *Subscriber[T]) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Stop marks the subscriber stopped, posts one final notification
// h(code, args) to every current handler, and clears the list. Further
// Subscribe calls fail with errs.SubscriberStopped.
func (s *Subscriber[T]) Stop(code errs.Code, args T) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range entries {
		e := e
		s.strand.Post(func() { e.fn(code, args) })
	}
}

// Stopped reports whether Stop has already run.
func (s *Subscriber[T]) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
