// Package wire defines the canonical event — the normalized, timestamped
// record of any telephony or conversational occurrence — and its JSON
// encoding on the broker topic.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the wire timestamp format, kept compatible with the
// dashboard's display format.
const TimestampLayout = "2006-01-02 15:04:05"

// Kind is the event discriminant, carried on the wire as the "type" key.
type Kind string

const (
	KindStatusUpdate  Kind = "status_update"
	KindUserInput     Kind = "user_input"
	KindAgentResponse Kind = "agent_response"
	KindTest          Kind = "test"
)

func (k Kind) String() string { return string(k) }

// Valid returns true for recognized event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStatusUpdate, KindUserInput, KindAgentResponse, KindTest:
		return true
	}
	return false
}

// Recognized payload keys. Unknown keys are preserved but not interpreted.
const (
	KeyCallSid      = "CallSid"
	KeyCallStatus   = "CallStatus"
	KeyCallDuration = "CallDuration"
	KeySpeechResult = "SpeechResult"
	KeyDigits       = "Digits"
	KeyReply        = "Reply"
)

// Event is the unit flowing through the bridge. It is a value type: copies
// cross every boundary (ingress → broker → queue → drain), never shared
// mutable state.
type Event struct {
	Kind      Kind
	Timestamp string
	Payload   map[string]string
}

// New creates an event of the given kind with a stamped timestamp.
func New(kind Kind, payload map[string]string) Event {
	ev := Event{Kind: kind, Payload: payload}
	ev.Stamp()
	return ev
}

// Stamp fills in the timestamp if it is empty. Every event must be stamped
// before it is published or queued.
func (e *Event) Stamp() {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(TimestampLayout)
	}
}

// Get returns a payload value, or empty string if absent.
func (e Event) Get(key string) string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload[key]
}

// Set writes a payload value, initializing the map if needed.
func (e *Event) Set(key, value string) {
	if e.Payload == nil {
		e.Payload = make(map[string]string)
	}
	e.Payload[key] = value
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := Event{Kind: e.Kind, Timestamp: e.Timestamp}
	if e.Payload != nil {
		out.Payload = make(map[string]string, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// Marshal encodes the event as a flat UTF-8 JSON object: the "type" and
// "timestamp" keys plus the payload keys inline, matching the dashboard's
// expected message shape.
func (e Event) Marshal() ([]byte, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("wire: marshal: unknown event kind %q", e.Kind)
	}
	flat := make(map[string]string, len(e.Payload)+2)
	for k, v := range e.Payload {
		flat[k] = v
	}
	flat["type"] = string(e.Kind)
	flat["timestamp"] = e.Timestamp
	return json.Marshal(flat)
}

// Unmarshal decodes a wire message. Payload values may be JSON strings or
// numbers; numbers are normalized to their decimal string form so round-trips
// preserve value identity. Unknown keys are kept. Messages without a "type"
// key decode as KindTest so a fuzzing producer cannot wedge the consumer.
func Unmarshal(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("wire: unmarshal: %w", err)
	}
	if raw == nil {
		// "null" decodes into a nil map without error; it is not a message.
		return Event{}, fmt.Errorf("wire: unmarshal: null message")
	}

	ev := Event{Kind: KindTest, Payload: make(map[string]string, len(raw))}
	for k, v := range raw {
		s, err := decodeScalar(v)
		if err != nil {
			return Event{}, fmt.Errorf("wire: unmarshal key %q: %w", k, err)
		}
		switch k {
		case "type":
			if kind := Kind(s); kind.Valid() {
				ev.Kind = kind
			}
		case "timestamp":
			ev.Timestamp = s
		default:
			ev.Payload[k] = s
		}
	}

	ev.Stamp() // producers may omit the timestamp; consumers never see it empty
	return ev, nil
}

// decodeScalar renders a JSON string, number, bool or null as a string.
// Arrays and objects are not valid payload values.
func decodeScalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	if string(raw) == "null" {
		return "", nil
	}
	return "", fmt.Errorf("unsupported value %s", string(raw))
}
