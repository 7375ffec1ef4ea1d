package eventbus

import (
	"testing"

	"github.com/voicebridge/voicebridge/pkg/domain"
)

func TestPublishRoutesByType(t *testing.T) {
	bus := New()

	var placed, all int
	bus.Subscribe(domain.EventCallPlaced, func(e domain.Event) { placed++ })
	bus.SubscribeAll(func(e domain.Event) { all++ })

	bus.Publish(domain.NewEvent(domain.EventCallPlaced, "CA1", nil))
	bus.Publish(domain.NewEvent(domain.EventCallEnded, "CA1", nil))

	if placed != 1 {
		t.Errorf("typed handler ran %d times, want 1", placed)
	}
	if all != 2 {
		t.Errorf("global handler ran %d times, want 2", all)
	}
}

func TestPublishAll(t *testing.T) {
	bus := New()

	var seen []domain.EventType
	bus.SubscribeAll(func(e domain.Event) { seen = append(seen, e.EventType()) })

	bus.PublishAll([]domain.Event{
		domain.NewEvent(domain.EventCallPlaced, "CA1", nil),
		domain.NewEvent(domain.EventCallStatusChanged, "CA1", nil),
	})

	if len(seen) != 2 || seen[0] != domain.EventCallPlaced || seen[1] != domain.EventCallStatusChanged {
		t.Errorf("events dispatched out of order: %v", seen)
	}
}

func TestClosedBusDropsEvents(t *testing.T) {
	bus := New()

	var count int
	bus.SubscribeAll(func(e domain.Event) { count++ })
	bus.Close()
	bus.Publish(domain.NewEvent(domain.EventCallPlaced, "CA1", nil))

	if count != 0 {
		t.Errorf("closed bus dispatched %d events, want 0", count)
	}
}
