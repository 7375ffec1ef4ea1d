package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/config"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/eventbus"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/queue"
	"github.com/voicebridge/voicebridge/pkg/voice"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// fakePublisher records relayed events.
type fakePublisher struct {
	mu     sync.Mutex
	events []wire.Event
}

func (p *fakePublisher) Publish(ev wire.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) byKind(kind wire.Kind) []wire.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wire.Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// fakeProvider returns a canned reply; with block set it waits out the context.
type fakeProvider struct {
	mu    sync.Mutex
	reply string
	block bool
	calls int
}

func (p *fakeProvider) Reply(ctx context.Context, turns []call.Turn, userText string) (string, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return p.reply, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeTelephony hands out a fixed SID without talking to any provider.
type fakeTelephony struct {
	sid    string
	placed []string
}

func (t *fakeTelephony) PlaceCall(toNumber, twimlDoc, statusCallbackURL string) (string, error) {
	t.placed = append(t.placed, toNumber)
	return t.sid, nil
}
func (t *fakeTelephony) FetchStatus(sid string) (call.Status, error) { return call.StatusRinging, nil }
func (t *fakeTelephony) EndCall(sid string) error                    { return nil }

func newTestServer(t *testing.T, prov *fakeProvider, pub *fakePublisher) *Server {
	t.Helper()

	cfg := config.Default()
	container := app.NewContainer(app.ContainerParams{
		EventBus:   eventbus.New(),
		Calls:      persistence.NewMemoryCallRepository(),
		History:    persistence.NewMemoryHistoryStore(),
		Queue:      queue.New(),
		Publisher:  pub,
		LLM:        prov,
		Telephony:  &fakeTelephony{sid: "CAfake"},
		LLMTimeout: 100 * time.Millisecond,
	})
	vb := voice.NewBuilder(cfg.Twilio.Voice, cfg.ProcessInputURL())
	return NewServer(cfg, container, vb)
}

func postForm(handler http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

// TestProcessInputSpeech covers the happy path: gathered speech produces one
// published user_input event, one LLM turn and a spoken reply that keeps
// gathering.
func TestProcessInputSpeech(t *testing.T) {
	prov := &fakeProvider{reply: "It is sunny today."}
	pub := &fakePublisher{}
	s := newTestServer(t, prov, pub)

	rec := postForm(s.handleProcessInput, "/process-input", url.Values{
		"SpeechResult": {"hello"},
		"CallSid":      {"CA123"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q, want application/xml", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "It is sunny today.") {
		t.Errorf("body missing reply: %s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("body missing gather: %s", body)
	}

	if prov.callCount() != 1 {
		t.Errorf("provider invoked %d times, want 1", prov.callCount())
	}

	inputs := pub.byKind(wire.KindUserInput)
	if len(inputs) != 1 {
		t.Fatalf("published %d user_input events, want 1", len(inputs))
	}
	if inputs[0].Get(wire.KeySpeechResult) != "hello" {
		t.Errorf("SpeechResult = %q, want hello", inputs[0].Get(wire.KeySpeechResult))
	}
	if inputs[0].Timestamp == "" {
		t.Error("published event not stamped")
	}
}

func TestProcessInputJSONBody(t *testing.T) {
	prov := &fakeProvider{reply: "Understood."}
	pub := &fakePublisher{}
	s := newTestServer(t, prov, pub)

	req := httptest.NewRequest(http.MethodPost, "/process-input",
		strings.NewReader(`{"SpeechResult":"hi there","CallSid":"CA123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handleProcessInput(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Understood.") {
		t.Errorf("body missing reply: %s", rec.Body.String())
	}
}

// TestProcessInputUnsupportedContentType verifies an unknown body type is
// rejected with 415 and produces no side effects at all.
func TestProcessInputUnsupportedContentType(t *testing.T) {
	prov := &fakeProvider{reply: "never spoken"}
	pub := &fakePublisher{}
	s := newTestServer(t, prov, pub)

	req := httptest.NewRequest(http.MethodPost, "/process-input", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.handleProcessInput(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rec.Code)
	}
	pub.mu.Lock()
	published := len(pub.events)
	pub.mu.Unlock()
	if published != 0 {
		t.Errorf("published %d events, want 0", published)
	}
	if prov.callCount() != 0 {
		t.Errorf("provider invoked %d times, want 0", prov.callCount())
	}
}

func TestProcessInputDigits(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	rec := postForm(s.handleProcessInput, "/process-input", url.Values{
		"Digits": {"42"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "You pressed: 42") {
		t.Errorf("body missing digit echo: %s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("body missing gather: %s", body)
	}
}

func TestProcessInputEmpty(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	rec := postForm(s.handleProcessInput, "/process-input", url.Values{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No input received.") {
		t.Errorf("body missing no-input prompt: %s", rec.Body.String())
	}
}

// TestProcessInputLLMTimeout verifies a stuck model still yields a spoken
// apology with an open gather, not a dead call.
func TestProcessInputLLMTimeout(t *testing.T) {
	prov := &fakeProvider{block: true}
	s := newTestServer(t, prov, &fakePublisher{})

	rec := postForm(s.handleProcessInput, "/process-input", url.Values{
		"SpeechResult": {"hello"},
		"CallSid":      {"CA123"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "repeat") {
		t.Errorf("body missing apology: %s", body)
	}
	if !strings.Contains(body, "<Gather") {
		t.Errorf("body missing gather: %s", body)
	}
}

func TestProcessInputRequiresPost(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/process-input", nil)
	rec := httptest.NewRecorder()
	s.handleProcessInput(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestStatusCallback(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestServer(t, &fakeProvider{}, pub)

	rec := postForm(s.handleStatusCallback, "/status_callback", url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"ringing"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Status update processed") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	updates := pub.byKind(wire.KindStatusUpdate)
	if len(updates) != 1 {
		t.Fatalf("published %d status_update events, want 1", len(updates))
	}
	if updates[0].Get(wire.KeyCallStatus) != "ringing" {
		t.Errorf("CallStatus = %q, want ringing", updates[0].Get(wire.KeyCallStatus))
	}

	c, err := s.container.CallService.Get("CA123")
	if err != nil {
		t.Fatalf("tracker did not register the call: %v", err)
	}
	if c.Status != call.StatusRinging {
		t.Errorf("tracked status = %s, want ringing", c.Status)
	}
}

// TestStatusCallbackOutOfOrder replays completed-then-ringing: the late
// callback is still acknowledged, the terminal status sticks.
func TestStatusCallbackOutOfOrder(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	for _, status := range []string{"completed", "ringing"} {
		rec := postForm(s.handleStatusCallback, "/status_callback", url.Values{
			"CallSid":    {"CA123"},
			"CallStatus": {status},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("callback %s: status = %d, want 200", status, rec.Code)
		}
	}

	c, err := s.container.CallService.Get("CA123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != call.StatusCompleted {
		t.Errorf("status = %s, want completed", c.Status)
	}
}

func TestPlaceCall(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/calls",
		strings.NewReader(`{"to":"+15551234567"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handleCalls(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "CAfake") {
		t.Errorf("body missing sid: %s", rec.Body.String())
	}

	c, err := s.container.CallService.Get("CAfake")
	if err != nil {
		t.Fatalf("placed call not tracked: %v", err)
	}
	if c.To != "+15551234567" {
		t.Errorf("to = %q", c.To)
	}
}

func TestPlaceCallRejectsBadNumber(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/calls",
		strings.NewReader(`{"to":"5551234567"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handleCalls(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryEndpointPaginates(t *testing.T) {
	s := newTestServer(t, &fakeProvider{}, &fakePublisher{})

	for i := 0; i < 3; i++ {
		s.container.Queue.Push(wire.New(wire.KindTest, map[string]string{"n": "x"}))
	}
	if _, err := s.container.HistoryService.DrainTick(); err != nil {
		t.Fatalf("drain: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?offset=1&limit=1", nil)
	rec := httptest.NewRecorder()
	s.handleHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"total":3`) {
		t.Errorf("body missing total: %s", body)
	}
	if !strings.Contains(body, `"offset":1`) {
		t.Errorf("body missing offset: %s", body)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	handler := apiKeyMiddleware("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"api route without key", "/api/calls", "", http.StatusUnauthorized},
		{"api route with wrong key", "/api/calls", "wrong", http.StatusUnauthorized},
		{"api route with key", "/api/calls", "secret", http.StatusOK},
		{"webhook route always open", "/status_callback", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
