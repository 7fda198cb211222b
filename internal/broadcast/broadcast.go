// Package broadcast implements the change notification fan-out: a bounded,
// multi-subscriber channel of network ids driving the SSE endpoint.
package broadcast

import (
	"sync"

	"github.com/tos-network/tos-headerwatch/internal/domain"
)

// Capacity is the per-subscriber channel buffer size.
const Capacity = 16

// Broadcaster fans network-id change events out to every current
// subscriber. A subscriber whose buffer is full when a send is attempted is
// never blocked on; instead it is marked lagged, and the next value queued
// into its buffer is domain.MaxUint32 rather than a network id. Values
// already buffered before the overflow are still delivered first.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan uint32
	lagged bool
}

// Subscription is the subscriber-facing handle returned by Subscribe.
type Subscription struct {
	b   *Broadcaster
	sub *subscriber
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new receiver. Callers must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &subscriber{ch: make(chan uint32, Capacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{b: b, sub: sub}
}

// Unsubscribe removes the subscription; further events are not delivered.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	delete(s.b.subs, s.sub)
	s.b.mu.Unlock()
}

// C returns the channel to receive events on.
func (s *Subscription) C() <-chan uint32 {
	return s.sub.ch
}

// Publish fans networkID out to every subscriber without blocking. A
// subscriber with a full buffer is flagged lagged and skipped for this
// event; its next successful delivery carries domain.MaxUint32 instead of
// whatever event it actually missed.
func (b *Broadcaster) Publish(networkID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		value := networkID
		if sub.lagged {
			value = domain.MaxUint32
		}
		select {
		case sub.ch <- value:
			sub.lagged = false
		default:
			sub.lagged = true
		}
	}
}
