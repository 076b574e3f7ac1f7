// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventbus is the in-process publish/subscribe spine (C1) used by
// the queue, step engine and analysis queue to emit lifecycle events, and
// consumed by the WebSocket bridge to mirror them to clients.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/stepflow/stepflow/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetEventBusLogger()
		log = &l
	})
	return log
}

// Event is one published message: a flat topic string, an opaque payload,
// and the time it was published.
type Event struct {
	Topic     string
	Payload   interface{}
	Timestamp time.Time
}

// Handler receives a published event. A handler's panic is recovered and
// logged, and never propagated to the publisher or to sibling handlers.
type Handler func(Event)

// Middleware may rewrite an event's payload or short-circuit delivery
// entirely by returning ok=false.
type Middleware func(Event) (Event, bool)

// Subscription is an opaque handle returned by Subscribe, passed back to
// Unsubscribe.
type Subscription struct {
	id    uint64
	topic string
}

type subscriberEntry struct {
	id      uint64
	handler Handler
}

// Bus is the concrete event bus. The zero value is not usable; construct
// with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriberEntry
	middleware  []Middleware
	nextID      uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]subscriberEntry),
	}
}

// Subscribe registers handler for topic. Multiple handlers per topic are
// allowed; insertion order is preserved for delivery ordering per
// subscriber.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := atomic.AddUint64(&b.nextID, 1)
	// Copy-on-write: replace the slice rather than append in place so a
	// publish iterating a snapshot never observes a torn append.
	existing := b.subscribers[topic]
	updated := make([]subscriberEntry, len(existing), len(existing)+1)
	copy(updated, existing)
	updated = append(updated, subscriberEntry{id: id, handler: handler})
	b.subscribers[topic] = updated

	return Subscription{id: id, topic: topic}
}

// Unsubscribe removes a previously registered handler. It is safe to call
// concurrently with an in-flight Publish for the same topic: Publish
// snapshots the handler list before invoking it, so removal only affects
// future publishes.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subscribers[sub.topic]
	if len(existing) == 0 {
		return
	}
	updated := make([]subscriberEntry, 0, len(existing))
	for _, e := range existing {
		if e.id != sub.id {
			updated = append(updated, e)
		}
	}
	b.subscribers[sub.topic] = updated
}

// Use appends a middleware to the chain. Middleware runs in registration
// order before every publish, regardless of topic.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Publish runs the middleware chain, then invokes every handler registered
// for topic concurrently. It returns once all handlers have settled.
// Delivery is at-most-once per subscription per call; there is no replay
// and no persistence.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	mws := b.middleware
	b.mu.RUnlock()

	for _, mw := range mws {
		var ok bool
		event, ok = mw(event)
		if !ok {
			getLog().Debug().Str("topic", topic).Msg("event short-circuited by middleware")
			return
		}
	}

	b.mu.RLock()
	handlers := b.subscribers[event.Topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg conc.WaitGroup
	for _, entry := range handlers {
		h := entry.handler
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					getLog().Error().
						Str("topic", event.Topic).
						Interface("panic", r).
						Msg("event handler panicked, isolated from publisher and peers")
				}
			}()
			h(event)
		})
	}
	wg.Wait()
}

// SubscriberCount returns the number of handlers currently registered for
// topic. Intended for tests and diagnostics.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
