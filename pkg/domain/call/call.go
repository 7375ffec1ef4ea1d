// Package call defines the Call bounded context.
// A Call is an aggregate root representing one outbound voice call: its
// provider-reported status lifecycle and the ordered conversation turns
// exchanged between the person on the phone and the LLM agent.
package call

import (
	"github.com/voicebridge/voicebridge/pkg/domain"
)

// ---------------------------------------------------------------------------
// Call status value object
// ---------------------------------------------------------------------------

// Status is the provider-reported lifecycle state of a call.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no-answer"
	StatusCanceled  Status = "canceled"
)

func (s Status) String() string { return string(s) }

// Terminal returns true for statuses from which no further transition is
// accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// Valid returns true if the status is recognized.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInitiated, StatusRinging, StatusAnswered,
		StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus normalizes a provider status string. Twilio reports an answered
// call as "in-progress"; everything else maps one to one.
func ParseStatus(raw string) (Status, bool) {
	switch raw {
	case "in-progress", "answered":
		return StatusAnswered, true
	}
	s := Status(raw)
	if s.Valid() {
		return s, true
	}
	return "", false
}

// rank orders the non-terminal forward progression of a call.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusInitiated:
		return 1
	case StatusRinging:
		return 2
	case StatusAnswered:
		return 3
	}
	return 4 // terminal
}

// ---------------------------------------------------------------------------
// Call aggregate root
// ---------------------------------------------------------------------------

// Call is the aggregate root for one outbound voice call. Primary key is the
// provider-assigned call SID.
type Call struct {
	domain.AggregateRoot

	// Identity
	Sid string `json:"sid"` // provider call identifier
	To  string `json:"to"`  // dialed number, E.164

	// Lifecycle
	Status Status `json:"status"`

	// Conversation (append-only, insertion order = chronological order)
	Turns []Turn `json:"turns"`

	// LastPolledStatus is what the UI poll loop last announced. Used only to
	// suppress duplicate announcements, not part of transition correctness.
	LastPolledStatus Status `json:"last_polled_status,omitempty"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewCall creates a Call aggregate for a freshly placed call.
func NewCall(sid, to string) *Call {
	c := &Call{
		Sid:       sid,
		To:        to,
		Status:    StatusQueued,
		Turns:     make([]Turn, 0),
		CreatedAt: domain.Now(),
		UpdatedAt: domain.Now(),
	}
	c.SetID(domain.EntityID(sid))
	c.RecordEvent(domain.NewEvent(domain.EventCallPlaced, c.ID(), map[string]string{
		"sid": sid,
		"to":  to,
	}))
	return c
}

// ---------------------------------------------------------------------------
// Call behavior
// ---------------------------------------------------------------------------

// ApplyStatus applies a provider status transition.
//
// A transition is accepted when the new status moves the call forward, or when
// the new status is terminal — a terminal status overrides any non-terminal
// current status, modeling "the call ended even if we missed an intermediate
// event". A repeat of initiated or ringing is accepted (providers re-emit
// these). Anything regressive, and any transition out of a terminal status,
// returns ErrTransitionRejected and leaves the call unchanged.
func (c *Call) ApplyStatus(next Status) error {
	if !next.Valid() {
		return ErrUnknownStatus
	}
	if c.Status.Terminal() {
		return ErrTransitionRejected
	}

	switch {
	case next.Terminal():
		// terminal override
	case next.rank() > c.Status.rank():
		// forward progress (intermediate states may be skipped)
	case next == c.Status && (next == StatusInitiated || next == StatusRinging):
		// at-least-once re-delivery of a repeatable state
		return nil
	default:
		return ErrTransitionRejected
	}

	prev := c.Status
	c.Status = next
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventCallStatusChanged, c.ID(), map[string]string{
		"sid":  c.Sid,
		"from": prev.String(),
		"to":   next.String(),
	}))
	if next.Terminal() {
		c.RecordEvent(domain.NewEvent(domain.EventCallEnded, c.ID(), map[string]string{
			"sid":    c.Sid,
			"status": next.String(),
		}))
	}
	return nil
}

// AppendTurn appends a conversation turn. Terminal calls keep their history
// readable but reject new turns.
func (c *Call) AppendTurn(speaker domain.Speaker, text string) error {
	if c.Status.Terminal() {
		return ErrCallEnded
	}
	c.Turns = append(c.Turns, Turn{
		Speaker:   speaker,
		Text:      text,
		Timestamp: domain.Now(),
	})
	c.UpdatedAt = domain.Now()
	c.RecordEvent(domain.NewEvent(domain.EventCallTurnAppended, c.ID(), map[string]string{
		"sid":     c.Sid,
		"speaker": speaker.String(),
	}))
	return nil
}

// Clone returns a detached copy of the call. Readers outside the tracker's
// per-call serialization must work on clones, never on the live aggregate.
func (c *Call) Clone() *Call {
	cp := *c
	cp.AggregateRoot = domain.AggregateRoot{}
	cp.SetID(c.ID())
	cp.Turns = make([]Turn, len(c.Turns))
	copy(cp.Turns, c.Turns)
	return &cp
}

// History returns a copy of the conversation turns in chronological order.
func (c *Call) History() []Turn {
	out := make([]Turn, len(c.Turns))
	copy(out, c.Turns)
	return out
}

// TurnCount returns the number of conversation turns.
func (c *Call) TurnCount() int { return len(c.Turns) }

// MarkPolled records the status last announced by a poll loop and reports
// whether it changed since the previous announcement.
func (c *Call) MarkPolled(s Status) bool {
	if c.LastPolledStatus == s {
		return false
	}
	c.LastPolledStatus = s
	return true
}

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Turn is a single (speaker, text) conversation entry. Immutable once appended.
type Turn struct {
	Speaker   domain.Speaker   `json:"speaker"`
	Text      string           `json:"text"`
	Timestamp domain.Timestamp `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Repository interface
// ---------------------------------------------------------------------------

// Repository defines persistence for Call aggregates. It stores and hands
// back live pointers; the tracker owns all synchronization around them.
type Repository interface {
	FindBySid(sid string) (*Call, error)
	FindAll() ([]*Call, error)
	Save(c *Call) error
	Delete(sid string) error
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type CallError string

func (e CallError) Error() string { return string(e) }

const (
	ErrCallNotFound       CallError = "call not found"
	ErrCallEnded          CallError = "call has ended"
	ErrUnknownStatus      CallError = "unknown call status"
	ErrTransitionRejected CallError = "status transition rejected"
)
