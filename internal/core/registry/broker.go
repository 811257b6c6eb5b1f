// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Broker is the in-process, single-producer/multi-consumer wake signal behind
the SSE transport. It replaces a fixed-interval polling watch loop with an
explicit wake-up: the [Aggregator] calls [Broker.Notify] once per committed
revision instead of subscribers re-polling the Store on a timer.

The broker never stores events; it only tells a subscriber "something
changed, go re-read the Store". Durability and ordering are owned entirely
by [Store]. This keeps delivery idempotent on reconnect (a subscriber that
missed a wake just drains further on its next one) and keeps broker memory
bounded by subscriber count, not event volume.
*/
package registry

import (
	"sync"
	"sync/atomic"
)

// Subscription is one SSE connection's registration with the [Broker]. Next
// is the revision the subscriber has not yet consumed; the subscriber loop
// (http_events.go) advances it after every successful drain so a later
// Notify only wakes subscribers that are actually behind.
type Subscription struct {
	next atomic.Uint64
	wake chan struct{}
}

// Advance records that the subscriber has consumed every event up to and
// including next-1.
func (s *Subscription) Advance(next uint64) {
	s.next.Store(next)
}

// Wake returns the channel the subscriber loop selects on between drains. A
// single buffered slot coalesces any number of notifications that arrive
// before the subscriber gets back around to receiving: the loop always
// re-drains the Store from its own cursor, so a coalesced wake never loses
// an event, it just batches more than one revision into the next drain.
func (s *Subscription) Wake() <-chan struct{} {
	return s.wake
}

// Broker fans a single revision counter out to every live [Subscription].
type Broker struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroker constructs an empty [Broker].
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscription starting at fromRevision and
// returns it. Callers must [Broker.Unsubscribe] it when the connection
// closes.
func (b *Broker) Subscribe(fromRevision uint64) *Subscription {
	sub := &Subscription{wake: make(chan struct{}, 1)}
	sub.next.Store(fromRevision)

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe deregisters sub. Safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Notify wakes every subscriber whose cursor has not yet reached revision.
// It satisfies [Notifier], the interface the [Aggregator] depends on.
func (b *Broker) Notify(revision uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub.next.Load() > revision {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions, exposed for health
// and metrics endpoints.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
