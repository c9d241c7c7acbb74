// Package events provides the in-process change event bus: coarse-grained
// "this collection changed" notifications that decouple ledger writers from
// readers. The bus is an explicitly constructed dependency with a lifecycle
// tied to the owning session, never process-wide state.
package events

import (
	"log/slog"
	"sync"
)

// Topic names a collection whose change is being announced. Topics are
// coarse-grained; there is no per-entity delivery.
type Topic string

const (
	TopicWorkspaces Topic = "workspaces"
	TopicMonths     Topic = "months"
	TopicExpenses   Topic = "expenses"
	TopicCards      Topic = "cards"
	TopicPurchases  Topic = "purchases"
	TopicTemplates  Topic = "templates"
)

// Handler receives a topic notification. Delivery is synchronous, on the
// publisher's goroutine; handlers observe a consistent snapshot of the state
// that triggered the publish.
type Handler func(topic Topic)

// Bus is a best-effort, in-process publish/subscribe hub. A failing
// subscriber never prevents the remaining subscribers from being notified,
// and never fails the publish itself. Publishes on the same topic are
// delivered in FIFO order because delivery is synchronous.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]*Subscription
	closed bool
}

// Subscription is the handle returned by Subscribe; Close releases it.
type Subscription struct {
	bus     *Bus
	topic   Topic
	handler Handler
	once    sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*Subscription)}
}

// Subscribe registers a handler for a topic. The returned handle must be
// closed when the subscriber goes away.
func (b *Bus) Subscribe(topic Topic, fn Handler) *Subscription {
	sub := &Subscription{bus: b, topic: topic, handler: fn}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub // inert handle, nothing will be delivered
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Close unsubscribes the handle. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		list := s.bus.subs[s.topic]
		for i, candidate := range list {
			if candidate == s {
				s.bus.subs[s.topic] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	})
}

// Publish notifies every subscriber of the topic, in subscription order.
// A panicking subscriber is contained and surfaced only as a diagnostic.
func (b *Bus) Publish(topic Topic) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	snapshot := make([]*Subscription, len(b.subs[topic]))
	copy(snapshot, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, topic)
	}
}

func (b *Bus) deliver(sub *Subscription, topic Topic) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked", "topic", topic, "panic", r)
		}
	}()
	sub.handler(topic)
}

// Close shuts the bus down; later publishes and subscriptions are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic][]*Subscription)
}

// SubscriberCount reports the live subscriptions for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
