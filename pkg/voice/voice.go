// Package voice builds the TwiML documents returned to the telephony
// provider. Every document that speaks also gathers: the conversational loop
// must never present the caller with a silent dead end, even on error paths.
package voice

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// Builder renders voice-response documents with a fixed voice and input
// gathering endpoint.
type Builder struct {
	voice     string // Twilio voice name, e.g. "Polly.Joanna"
	gatherURL string // absolute URL of the input endpoint
}

// NewBuilder creates a document builder.
func NewBuilder(voice, gatherURL string) *Builder {
	return &Builder{voice: voice, gatherURL: gatherURL}
}

// gather accepts both speech and keypad input and posts it back to the input
// endpoint, waiting up to five seconds — the provider's call-flow budget.
func (b *Builder) gather() *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech dtmf",
		Action:        b.gatherURL,
		Method:        "POST",
		Timeout:       "5",
		SpeechTimeout: "auto",
	}
}

func (b *Builder) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: b.voice}
}

// Greeting opens a freshly answered call.
func (b *Builder) Greeting() (string, error) {
	return b.render(
		b.say("Hello! How can I help you today?"),
		b.gather(),
	)
}

// Reply speaks the agent's next line and keeps gathering. A short pause
// before the reply gives the caller's audio a beat to settle.
func (b *Builder) Reply(text string) (string, error) {
	return b.render(
		&twiml.VoicePause{Length: "5"},
		b.say(text),
		b.gather(),
	)
}

// DigitsEcho acknowledges keypad input.
func (b *Builder) DigitsEcho(digits string) (string, error) {
	return b.render(
		b.say(fmt.Sprintf("You pressed: %s", digits)),
		b.gather(),
	)
}

// NoInput handles a gather that returned neither speech nor digits.
func (b *Builder) NoInput() (string, error) {
	return b.render(
		b.say("No input received."),
		b.gather(),
	)
}

// Fallback is spoken on any backend failure. It apologizes and re-opens the
// gather so the call survives the fault.
func (b *Builder) Fallback() (string, error) {
	return b.render(
		b.say("Sorry, something went wrong. Let's try again."),
		b.gather(),
	)
}

func (b *Builder) render(verbs ...twiml.Element) (string, error) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("voice: render: %w", err)
	}
	return doc, nil
}
