// Package app provides the application services that orchestrate domain
// operations: the call session tracker and the session view drain. These sit
// between the HTTP/console layer and the domain layer.
package app

import (
	"time"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/llm"
	"github.com/voicebridge/voicebridge/pkg/queue"
	"github.com/voicebridge/voicebridge/pkg/telephony"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// Publisher is the outbound side of the broker link as the services see it.
type Publisher interface {
	Publish(ev wire.Event) error
}

// Container is the composition root. The process entry point constructs it
// once, passes it down explicitly, and tears it down on shutdown — there are
// no ambient singletons.
type Container struct {
	EventBus  domain.EventBus
	Calls     call.Repository
	History   persistence.HistoryStore
	Queue     *queue.EventQueue
	Publisher Publisher
	LLM       llm.Provider
	Telephony telephony.Client

	CallService    *CallService
	HistoryService *HistoryService
}

// ContainerParams names the dependencies NewContainer wires together.
type ContainerParams struct {
	EventBus   domain.EventBus
	Calls      call.Repository
	History    persistence.HistoryStore
	Queue      *queue.EventQueue
	Publisher  Publisher
	LLM        llm.Provider
	Telephony  telephony.Client
	LLMTimeout time.Duration
}

// NewContainer creates a fully wired application container.
func NewContainer(p ContainerParams) *Container {
	c := &Container{
		EventBus:  p.EventBus,
		Calls:     p.Calls,
		History:   p.History,
		Queue:     p.Queue,
		Publisher: p.Publisher,
		LLM:       p.LLM,
		Telephony: p.Telephony,
	}
	c.CallService = NewCallService(p.Calls, p.EventBus, p.Publisher, p.LLM, p.LLMTimeout)
	c.HistoryService = NewHistoryService(p.Queue, p.History, p.EventBus)
	return c
}

// PublishEvents dispatches pending events from an aggregate and clears them.
func (c *Container) PublishEvents(aggregate interface{ PullEvents() []domain.Event }) {
	for _, event := range aggregate.PullEvents() {
		c.EventBus.Publish(event)
	}
}

// Shutdown closes the container-owned resources.
func (c *Container) Shutdown() {
	if c.EventBus != nil {
		c.EventBus.Close()
	}
	if c.History != nil {
		c.History.Close()
	}
}
