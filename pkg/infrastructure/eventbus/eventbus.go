// Package eventbus provides the in-process implementation of the domain
// event bus. Call and history domain events flow through it to diagnostics
// and the dashboard WebSocket hub. The cross-process bridge is pkg/broker;
// this bus only ever dispatches within one process.
package eventbus

import (
	"sync"

	"github.com/voicebridge/voicebridge/pkg/domain"
)

// InProcessEventBus is a synchronous in-process event bus. It dispatches
// events to registered handlers immediately on Publish().
type InProcessEventBus struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process event bus.
func New() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[domain.EventType][]domain.EventHandler),
	}
}

// Publish dispatches an event to all matching handlers. Typed handlers run
// first, then global handlers.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, handler := range b.handlers[event.EventType()] {
		handler(event)
	}
	for _, handler := range b.allHandlers {
		handler(event)
	}
}

// PublishAll dispatches multiple events (e.g. from AggregateRoot.PullEvents).
func (b *InProcessEventBus) PublishAll(events []domain.Event) {
	for _, event := range events {
		b.Publish(event)
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, handler)
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// Verify interface compliance at compile time.
var _ domain.EventBus = (*InProcessEventBus)(nil)
