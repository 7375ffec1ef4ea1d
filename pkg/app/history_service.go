package app

import (
	"context"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/queue"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// HistoryService is the session view drain: on every tick it moves whatever
// the broker receive goroutine queued into the append-only message history.
// Ticks serialize on an internal mutex, so a manual DrainTick (the console's
// history command) is safe alongside the Run loop.
type HistoryService struct {
	queue    *queue.EventQueue
	store    persistence.HistoryStore
	eventBus domain.EventBus

	mu      sync.Mutex
	pending []wire.Event // batch a failed append left behind, retried first
}

// NewHistoryService creates the drain.
func NewHistoryService(q *queue.EventQueue, store persistence.HistoryStore, eventBus domain.EventBus) *HistoryService {
	return &HistoryService{queue: q, store: store, eventBus: eventBus}
}

// DrainTick drains the queue into the history once and returns how many
// events moved. Draining an empty queue is a cheap no-op. A batch the store
// rejects is held back and retried ahead of fresh queue contents, so history
// insertion order stays arrival order across the error path.
func (s *HistoryService) DrainTick() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := append(s.pending, s.queue.DrainAll()...)
	if len(batch) == 0 {
		return 0, nil
	}

	if err := s.store.Append(batch); err != nil {
		// Losing the batch would violate the no-loss property.
		s.pending = batch
		return 0, err
	}
	s.pending = nil

	logger.DebugCF("drain", "Events drained to history", map[string]interface{}{
		"count": len(batch),
	})
	if s.eventBus != nil {
		s.eventBus.Publish(domain.NewEvent(domain.EventHistoryAppended, "", map[string]interface{}{
			"count":  len(batch),
			"events": batch,
		}))
	}
	return len(batch), nil
}

// Run drains on a bounded interval until the context is cancelled. This is
// the UI refresh tick: cancellation simply stops scheduling further ticks.
func (s *HistoryService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoCF("drain", "Session view drain started", map[string]interface{}{
		"interval": interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			// Final sweep so shutdown does not strand queued events.
			if _, err := s.DrainTick(); err != nil {
				logger.ErrorCF("drain", "Final drain failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			logger.InfoC("drain", "Session view drain stopped")
			return
		case <-ticker.C:
			if _, err := s.DrainTick(); err != nil {
				logger.ErrorCF("drain", "Drain failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Page returns a page of the message history in insertion order.
func (s *HistoryService) Page(offset, limit int) ([]persistence.StoredEvent, error) {
	return s.store.Page(offset, limit)
}

// Count returns the total history length.
func (s *HistoryService) Count() (int, error) {
	return s.store.Count()
}
