// Package queue provides the inbound event queue: the single handoff point
// between the broker link's receive goroutine and the polling consumer.
package queue

import (
	"sync"

	"github.com/voicebridge/voicebridge/pkg/wire"
)

// EventQueue is a thread-safe, unbounded FIFO buffer of canonical events.
// Push never blocks; DrainAll atomically removes and returns everything
// currently queued in arrival order. It is the only structure in a process
// touched by two execution contexts, so all access goes through one mutex.
type EventQueue struct {
	mu    sync.Mutex
	items []wire.Event
}

// New creates an empty queue.
func New() *EventQueue {
	return &EventQueue{}
}

// Push appends an event. It never blocks and never fails.
func (q *EventQueue) Push(ev wire.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
}

// DrainAll removes and returns all queued events, preserving arrival order.
// It returns an empty slice when nothing is queued and never waits for new
// items. Each pushed event is delivered to exactly one drain.
func (q *EventQueue) DrainAll() []wire.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return []wire.Event{}
	}
	out := q.items
	q.items = nil
	return out
}

// Len reports the current queue depth. Diagnostic only — the value may be
// stale by the time the caller looks at it.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
