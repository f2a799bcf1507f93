package repository

import (
	"context"
	"sync"

	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
)

// Subscriber handles one event. It runs on the publisher's goroutine and must not block.
type Subscriber func(models.Event)

// Bus is the in-process event bus. Delivery is synchronous so subscribers see
// events in publish order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[models.EventType][]Subscriber
	allSubs     []Subscriber
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[models.EventType][]Subscriber)}
}

// Subscribe registers fn for one event type.
func (b *Bus) Subscribe(t models.EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], fn)
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, fn)
}

func (b *Bus) Publish(_ context.Context, ev models.Event) error {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[ev.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// EventRecorder collects events in memory; tests and the status view use it.
type EventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *EventRecorder) Publish(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded, optionally filtered by type.
func (r *EventRecorder) Events(types ...models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Event, 0, len(r.events))
	for _, ev := range r.events {
		if len(types) == 0 {
			out = append(out, ev)
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

var (
	_ domrepo.EventPublisher = (*Bus)(nil)
	_ domrepo.EventPublisher = (*EventRecorder)(nil)
)
