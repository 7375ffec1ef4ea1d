package voice

import (
	"strings"
	"testing"
)

const gatherURL = "http://example.com/process-input"

func newBuilder() *Builder {
	return NewBuilder("Polly.Joanna", gatherURL)
}

// requireGather asserts the document keeps the conversational loop open: it
// must gather speech and keypad input back to the input endpoint.
func requireGather(t *testing.T, doc string) {
	t.Helper()
	if !strings.Contains(doc, "<Gather") {
		t.Fatalf("document has no gather: %s", doc)
	}
	if !strings.Contains(doc, "speech dtmf") {
		t.Errorf("gather does not accept speech and dtmf: %s", doc)
	}
	if !strings.Contains(doc, gatherURL) {
		t.Errorf("gather does not post back to the input endpoint: %s", doc)
	}
}

func TestDocumentsAlwaysGather(t *testing.T) {
	b := newBuilder()

	tests := []struct {
		name  string
		build func() (string, error)
		say   string
	}{
		{"greeting", b.Greeting, "Hello! How can I help you today?"},
		{"reply", func() (string, error) { return b.Reply("The sky is blue.") }, "The sky is blue."},
		{"digits echo", func() (string, error) { return b.DigitsEcho("123") }, "You pressed: 123"},
		{"no input", b.NoInput, "No input received."},
		{"fallback", b.Fallback, "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := tt.build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if !strings.Contains(doc, "<Response>") {
				t.Errorf("not a voice response document: %s", doc)
			}
			if !strings.Contains(doc, tt.say) {
				t.Errorf("document does not speak %q: %s", tt.say, doc)
			}
			requireGather(t, doc)
		})
	}
}

func TestReplyPausesBeforeSpeaking(t *testing.T) {
	doc, err := newBuilder().Reply("hello")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	pause := strings.Index(doc, "<Pause")
	say := strings.Index(doc, "<Say")
	if pause == -1 {
		t.Fatalf("reply has no pause: %s", doc)
	}
	if say == -1 || pause > say {
		t.Errorf("pause does not precede the spoken reply: %s", doc)
	}
	if !strings.Contains(doc, `length="5"`) {
		t.Errorf("pause length missing: %s", doc)
	}
}

func TestVoiceAttribute(t *testing.T) {
	doc, err := newBuilder().Reply("hello")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(doc, "Polly.Joanna") {
		t.Errorf("configured voice missing: %s", doc)
	}
}
