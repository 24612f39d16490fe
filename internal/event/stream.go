// Package event provides a multi-subscriber broadcast stream with
// bounded history. Publishing never blocks on slow subscribers: each
// subscription tracks its own cursor into a ring of sequenced events,
// and a subscriber that falls behind the ring observes ErrLagged and
// is skipped ahead instead of stalling the broadcaster.
package event

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrLagged means events were dropped for this subscription because
	// it consumed too slowly. The subscription remains usable.
	ErrLagged = errors.New("event: subscription lagged, events dropped")
	// ErrClosed means the stream was closed and all buffered events for
	// this subscription have been consumed.
	ErrClosed = errors.New("event: stream closed")
)

const defaultCapacity = 64

// Stream is a broadcast channel of T values.
type Stream[T any] struct {
	mu     sync.Mutex
	ring   []T
	base   uint64 // sequence number of ring[0]
	next   uint64 // sequence number of the next published event
	cap    int
	closed bool
	wake   chan struct{} // closed and replaced on every publish
}

func NewStream[T any](capacity int) *Stream[T] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Stream[T]{
		cap:  capacity,
		wake: make(chan struct{}),
	}
}

// Publish appends an event. If the ring is full the oldest event is
// dropped; subscribers still pointing at it will observe ErrLagged.
func (s *Stream[T]) Publish(ev T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.ring = append(s.ring, ev)
	s.next++
	if len(s.ring) > s.cap {
		drop := len(s.ring) - s.cap
		s.ring = append(s.ring[:0:0], s.ring[drop:]...)
		s.base += uint64(drop)
	}
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
}

// Close ends the stream. Pending Recv calls drain buffered events and
// then return ErrClosed.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.wake)
	}
	s.mu.Unlock()
}

// Subscribe starts a subscription at the current head of the stream.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Subscription[T]{stream: s, cursor: s.next}
}

// Subscription is a single consumer's cursor into the stream. Not safe
// for concurrent use by multiple goroutines.
type Subscription[T any] struct {
	stream *Stream[T]
	cursor uint64
}

// Recv returns the next event. It blocks until an event is available,
// the stream closes, or ctx is done. A lagged subscription is moved to
// the oldest retained event and ErrLagged is returned once.
func (sub *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		s := sub.stream
		s.mu.Lock()
		if sub.cursor < s.base {
			sub.cursor = s.base
			s.mu.Unlock()
			return zero, ErrLagged
		}
		if sub.cursor < s.next {
			ev := s.ring[sub.cursor-s.base]
			sub.cursor++
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		wake := s.wake
		s.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
