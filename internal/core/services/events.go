package services

import (
	"context"
	"sync"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// subscriberBuffer is the per-subscriber event buffer.
const subscriberBuffer = 256

// EventBus fans cell events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.CellEvent
	nextID int
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan domain.CellEvent)}
}

// Subscribe returns a channel of events that is closed when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context) <-chan domain.CellEvent {
	ch := make(chan domain.CellEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Publish delivers an event to every subscriber with room for it.
func (b *EventBus) Publish(event domain.CellEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
