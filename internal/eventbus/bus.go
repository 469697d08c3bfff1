// Package eventbus fans events out to subscribers over channels.
//
// Each subscriber has its own unbounded queue drained by a goroutine, so
// Publish never blocks and every subscriber sees events in publish order.
package eventbus

import (
	"sync"
)

// Bus is an in-process, goroutine-safe event bus.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

type subscriber[T any] struct {
	ch   chan T
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	queue []T
}

// New creates an event bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe returns a channel receiving every event published after the call
// and a function that unsubscribes. The channel is closed once the
// subscription ends.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	sub := &subscriber[T]{
		ch:   make(chan T),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.pump()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}
}

// Publish queues v for every current subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, v)
		sub.mu.Unlock()

		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Close is idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.stop()
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- v:
		case <-s.done:
			return
		}
	}
}
