// Package events provides a fan-out stream with bounded, drop-oldest subscriber buffers.
package events

import (
	"sync"

	"github.com/desertthunder/tapedeck/internal/shared"
)

// DefaultBuffer is the per-subscriber capacity used when none is configured.
const DefaultBuffer = 64

// Bus delivers each published value to every open [Subscription].
//
// Publish never blocks: when a subscriber's buffer is full its oldest pending value is dropped.
type Bus[T any] struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	closed bool
}

// NewBus creates a bus whose subscribers buffer up to buffer values.
func NewBus[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{buffer: buffer, subs: make(map[string]*Subscription[T])}
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns an already closed subscription.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		id:  shared.GenerateID(),
		bus: b,
		ch:  make(chan T, b.buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish fans v out to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.offer(v)
	}
}

// Len returns the number of open subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription and rejects further publishes.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.shut()
		delete(b.subs, id)
	}
}

// Subscription is one consumer of a [Bus].
type Subscription[T any] struct {
	id  string
	bus *Bus[T]

	mu      sync.Mutex
	ch      chan T
	dropped uint64
	closed  bool
}

// ID returns the subscription id.
func (s *Subscription[T]) ID() string { return s.id }

// C returns the receive channel. It is closed when the subscription or bus closes.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped returns how many values were discarded on overflow.
func (s *Subscription[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.shut()
}

func (s *Subscription[T]) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer enqueues v, evicting the oldest value when the buffer is full.
func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}
