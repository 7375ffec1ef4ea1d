package app

import (
	"context"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/llm"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// FallbackReply is spoken when the LLM turn fails or times out. The gather
// loop stays open, so the caller can simply try again.
const FallbackReply = "I'm sorry, I didn't catch that. Could you please repeat?"

// AppError is a typed error for application-service failures.
type AppError string

func (e AppError) Error() string { return string(e) }

// ErrLLMUnavailable marks a turn whose reply is the fallback apology rather
// than a real model response.
const ErrLLMUnavailable AppError = "llm invocation failed"

// defaultLLMTimeout bounds a turn when no timeout is configured. Twilio's
// gather redirect gives the backend only a few seconds to answer.
const defaultLLMTimeout = 10 * time.Second

// CallService is the call session tracker. It owns every status transition
// and turn append for every tracked call, serializing work per call SID so
// concurrent webhooks for the same call cannot interleave while different
// calls never contend.
type CallService struct {
	repo       call.Repository
	eventBus   domain.EventBus
	publisher  Publisher
	provider   llm.Provider
	llmTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one lock per call SID
}

// NewCallService creates the tracker.
func NewCallService(repo call.Repository, eventBus domain.EventBus, publisher Publisher, provider llm.Provider, llmTimeout time.Duration) *CallService {
	if llmTimeout <= 0 {
		llmTimeout = defaultLLMTimeout
	}
	return &CallService{
		repo:       repo,
		eventBus:   eventBus,
		publisher:  publisher,
		provider:   provider,
		llmTimeout: llmTimeout,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-call mutex, creating it on first use.
func (s *CallService) lockFor(sid string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sid]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sid] = l
	}
	return l
}

// TrackPlaced registers a freshly placed call and mirrors a queued status
// event to the dashboard.
func (s *CallService) TrackPlaced(sid, to string) (*call.Call, error) {
	l := s.lockFor(sid)
	l.Lock()
	defer l.Unlock()

	c := call.NewCall(sid, to)
	if err := s.repo.Save(c); err != nil {
		return nil, err
	}
	s.dispatch(c)

	s.mirror(wire.New(wire.KindStatusUpdate, map[string]string{
		wire.KeyCallSid:    sid,
		wire.KeyCallStatus: call.StatusQueued.String(),
	}))
	return c.Clone(), nil
}

// ApplyStatus applies a provider status update to the call's state machine.
// Rejected (regressive or post-terminal) transitions are logged no-ops, not
// errors to the caller. Calls first seen through a status callback — placed
// by another process — are registered on the fly.
func (s *CallService) ApplyStatus(sid string, raw string) error {
	status, ok := call.ParseStatus(raw)
	if !ok {
		logger.WarnCF("tracker", "Ignoring unknown call status", map[string]interface{}{
			"sid":    sid,
			"status": raw,
		})
		return nil
	}

	l := s.lockFor(sid)
	l.Lock()
	defer l.Unlock()

	c, err := s.repo.FindBySid(sid)
	if err != nil {
		// Placed by another process: register before applying, so the sid is
		// tracked even when the callback repeats the fresh queued state.
		c = call.NewCall(sid, "")
		if err := s.repo.Save(c); err != nil {
			return err
		}
		s.dispatch(c)
	}

	if err := c.ApplyStatus(status); err != nil {
		logger.InfoCF("tracker", "Status transition rejected", map[string]interface{}{
			"sid":     sid,
			"current": c.Status.String(),
			"next":    status.String(),
			"reason":  err.Error(),
		})
		return nil
	}

	if err := s.repo.Save(c); err != nil {
		return err
	}
	s.dispatch(c)
	return nil
}

// HandleUserInput runs one conversation turn: append the caller's utterance,
// ask the LLM for the next line under a bounded timeout, append and mirror
// the reply. On LLM failure the fallback apology is returned together with
// ErrLLMUnavailable so the ingress adapter can keep the gather loop open; no
// agent turn is recorded for a failed invocation.
func (s *CallService) HandleUserInput(ctx context.Context, sid, speech string) (string, error) {
	l := s.lockFor(sid)
	l.Lock()
	defer l.Unlock()

	c, err := s.repo.FindBySid(sid)
	if err != nil {
		c = call.NewCall(sid, "")
		if err := s.repo.Save(c); err != nil {
			return "", err
		}
	}

	if err := c.AppendTurn(domain.SpeakerUser, speech); err != nil {
		return "", err
	}

	turnCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	// History up to but not including the turn just appended: the provider
	// receives it as the new user message.
	history := c.History()
	history = history[:len(history)-1]

	reply, llmErr := s.provider.Reply(turnCtx, history, speech)
	if llmErr != nil {
		logger.ErrorCF("tracker", "LLM turn failed", map[string]interface{}{
			"sid":   sid,
			"error": llmErr.Error(),
		})
		if err := s.repo.Save(c); err != nil {
			return "", err
		}
		s.dispatch(c)
		return FallbackReply, ErrLLMUnavailable
	}

	if err := c.AppendTurn(domain.SpeakerAgent, reply); err != nil {
		return "", err
	}
	if err := s.repo.Save(c); err != nil {
		return "", err
	}
	s.dispatch(c)

	s.mirror(wire.New(wire.KindAgentResponse, map[string]string{
		wire.KeyCallSid: sid,
		wire.KeyReply:   reply,
	}))
	return reply, nil
}

// Get returns a detached snapshot of a tracked call. The per-call lock is
// taken for the copy, so readers never observe a turn append or status
// transition mid-flight.
func (s *CallService) Get(sid string) (*call.Call, error) {
	l := s.lockFor(sid)
	l.Lock()
	defer l.Unlock()

	c, err := s.repo.FindBySid(sid)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// ListActive returns snapshots of calls that have not reached a terminal
// status.
func (s *CallService) ListActive() ([]*call.Call, error) {
	all, err := s.snapshots()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListAll returns snapshots of every tracked call.
func (s *CallService) ListAll() ([]*call.Call, error) {
	return s.snapshots()
}

// snapshots clones every tracked call under its own lock.
func (s *CallService) snapshots() ([]*call.Call, error) {
	calls, err := s.repo.FindAll()
	if err != nil {
		return nil, err
	}
	out := make([]*call.Call, 0, len(calls))
	for _, c := range calls {
		l := s.lockFor(c.Sid)
		l.Lock()
		out = append(out, c.Clone())
		l.Unlock()
	}
	return out, nil
}

// Archive removes a terminal call from the tracker. Its history has already
// been mirrored to the message history; the live map should not grow forever.
func (s *CallService) Archive(sid string) error {
	l := s.lockFor(sid)
	l.Lock()
	defer l.Unlock()

	c, err := s.repo.FindBySid(sid)
	if err != nil {
		return err
	}
	if !c.Status.Terminal() {
		return call.ErrTransitionRejected
	}
	if err := s.repo.Delete(sid); err != nil {
		return err
	}
	s.eventBus.Publish(domain.NewEvent(domain.EventCallArchived, c.ID(), map[string]string{
		"sid": sid,
	}))

	s.mu.Lock()
	delete(s.locks, sid)
	s.mu.Unlock()
	return nil
}

// mirror sends an outbound canonical event to the broker so the dashboard
// process stays in sync. Relay failure never fails the call flow.
func (s *CallService) mirror(ev wire.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ev); err != nil {
		logger.WarnCF("tracker", "Event relay failed", map[string]interface{}{
			"type":  ev.Kind.String(),
			"error": err.Error(),
		})
	}
}

// dispatch publishes the aggregate's pending domain events.
func (s *CallService) dispatch(c *call.Call) {
	for _, event := range c.PullEvents() {
		s.eventBus.Publish(event)
	}
}
