// Event bridge — forwards in-process domain events to the WebSocket hub so
// connected dashboards see call lifecycle changes and drained history batches
// as they happen.
package api

import (
	"github.com/voicebridge/voicebridge/pkg/domain"
)

// EventBridge subscribes the WebSocket hub to the domain event bus.
type EventBridge struct {
	bus domain.EventBus
	hub *WSHub
}

// NewEventBridge creates the bridge.
func NewEventBridge(bus domain.EventBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: bus, hub: hub}
}

// Attach registers the forwarding handler. The handler runs on whichever
// goroutine publishes the domain event; WSHub.Broadcast is non-blocking, so
// publishers are never held up by slow dashboards.
func (eb *EventBridge) Attach() {
	eb.bus.SubscribeAll(func(event domain.Event) {
		eb.hub.Broadcast(string(event.EventType()), map[string]interface{}{
			"aggregate_id": event.AggregateID().String(),
			"occurred_at":  event.OccurredAt(),
			"data":         event.Payload(),
		})
	})
}
