package stream

import "sync"

// Broadcast fans values out to any number of independent subscribers.
//
// Publish preserves per-source ordering: values are delivered to each
// subscriber's ring buffer in publish order, and a lagging subscriber drops
// its own oldest values without affecting anyone else. Late subscribers see
// only values published after Subscribe returns, unless the broadcast was
// created with NewStateBroadcast, in which case the most recent value is
// replayed immediately on subscribe.
type Broadcast[T any] struct {
	mu         sync.Mutex
	subs       map[*Subscription[T]]struct{}
	buffer     int
	closed     bool
	replayLast bool
	last       T
	hasLast    bool
}

// Subscription is one subscriber's view of a Broadcast. Cancel releases it;
// the channel returned by C is closed when the subscription is cancelled or
// the broadcast itself closes.
type Subscription[T any] struct {
	ring   *RingChannel[T]
	parent *Broadcast[T]
	done   bool
}

// NewBroadcast creates a broadcast with the given per-subscriber buffer size.
func NewBroadcast[T any](buffer int) *Broadcast[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcast[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: buffer,
	}
}

// NewStateBroadcast creates a broadcast with replay-last-value semantics,
// seeded with initial. A new subscriber immediately receives the current value.
func NewStateBroadcast[T any](buffer int, initial T) *Broadcast[T] {
	b := NewBroadcast[T](buffer)
	b.replayLast = true
	b.last = initial
	b.hasLast = true
	return b
}

// Publish delivers v to every current subscriber. It never blocks: each
// subscriber's ring drops its oldest value when full. Publishing on a closed
// broadcast is a no-op.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.last = v
	b.hasLast = true
	for sub := range b.subs {
		sub.ring.Send(v)
	}
}

// Subscribe registers a new subscriber. If the broadcast is already closed,
// the returned subscription's channel is closed immediately.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{
		ring:   NewRingChannel[T](b.buffer),
		parent: b,
	}
	if b.closed {
		sub.done = true
		sub.ring.Close()
		return sub
	}
	if b.replayLast && b.hasLast {
		sub.ring.Send(b.last)
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close terminates the broadcast: every subscriber's channel is closed and
// future Subscribe calls receive an already-closed subscription. Idempotent.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.done = true
		sub.ring.Close()
	}
	b.subs = make(map[*Subscription[T]]struct{})
}

// Len reports the current number of subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// C returns the subscriber's receive channel.
func (s *Subscription[T]) C() <-chan T {
	return s.ring.C()
}

// Cancel detaches the subscription and closes its channel. Safe to call more
// than once and safe to call after the broadcast has closed.
func (s *Subscription[T]) Cancel() {
	b := s.parent
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	delete(b.subs, s)
	s.ring.Close()
}
