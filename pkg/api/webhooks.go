// Webhook ingress adapter — normalizes Twilio callbacks into canonical
// events, relays them over the broker, and answers with voice documents that
// always keep the conversational loop open.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// POST /status_callback — Twilio call lifecycle updates, form-encoded.
// The canonical event is always published before the tracker is consulted;
// a relay failure is logged and the request continues.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"status": "error", "message": "POST required",
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error", "message": "malformed form body",
		})
		return
	}

	payload := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		payload[key] = r.PostForm.Get(key)
	}

	ev := wire.New(wire.KindStatusUpdate, payload)
	s.relay(ev)

	sid := ev.Get(wire.KeyCallSid)
	status := ev.Get(wire.KeyCallStatus)
	logger.InfoCF("webhook", "Status callback", map[string]interface{}{
		"sid":    sid,
		"status": status,
	})

	if sid != "" && status != "" {
		if err := s.container.CallService.ApplyStatus(sid, status); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "error", "message": err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Status update processed",
	})
}

// POST /process-input — gathered caller input, form-encoded or JSON. Any
// other content type is 415 with no side effects. Every response, including
// the error paths, is a voice document with a continuation gather: a backend
// fault must never strand the caller.
func (s *Server) handleProcessInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	speech, digits, sid, ok := s.parseInput(w, r)
	if !ok {
		return // 415 already written, nothing published
	}

	payload := map[string]string{
		wire.KeySpeechResult: speech,
		wire.KeyDigits:       digits,
	}
	if sid != "" {
		payload[wire.KeyCallSid] = sid
	}
	ev := wire.New(wire.KindUserInput, payload)
	s.relay(ev)

	switch {
	case speech != "":
		reply, err := s.container.CallService.HandleUserInput(r.Context(), sid, speech)
		if err != nil && !errors.Is(err, app.ErrLLMUnavailable) {
			s.fallback(w, err)
			return
		}
		// On ErrLLMUnavailable reply already carries the spoken apology.
		doc, derr := s.voice.Reply(reply)
		if derr != nil {
			s.fallback(w, derr)
			return
		}
		writeTwiML(w, http.StatusOK, doc)

	case digits != "":
		doc, err := s.voice.DigitsEcho(digits)
		if err != nil {
			s.fallback(w, err)
			return
		}
		writeTwiML(w, http.StatusOK, doc)

	default:
		doc, err := s.voice.NoInput()
		if err != nil {
			s.fallback(w, err)
			return
		}
		writeTwiML(w, http.StatusOK, doc)
	}
}

// parseInput extracts SpeechResult/Digits/CallSid from a form or JSON body.
// On an unsupported content type it writes 415 and returns ok=false.
func (s *Server) parseInput(w http.ResponseWriter, r *http.Request) (speech, digits, sid string, ok bool) {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))

	switch {
	case strings.Contains(contentType, "application/json"):
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			// Malformed JSON is a decode failure, not an unsupported type:
			// treat it as empty input so the gather loop continues.
			logger.WarnCF("webhook", "Malformed JSON input body", map[string]interface{}{
				"error": err.Error(),
			})
			return "", "", "", true
		}
		speech, _ = body[wire.KeySpeechResult].(string)
		digits, _ = body[wire.KeyDigits].(string)
		sid, _ = body[wire.KeyCallSid].(string)
		return speech, digits, sid, true

	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			logger.WarnCF("webhook", "Malformed form input body", map[string]interface{}{
				"error": err.Error(),
			})
			return "", "", "", true
		}
		return r.PostForm.Get(wire.KeySpeechResult),
			r.PostForm.Get(wire.KeyDigits),
			r.PostForm.Get(wire.KeyCallSid),
			true

	default:
		logger.WarnCF("webhook", "Unsupported content type", map[string]interface{}{
			"content_type": contentType,
		})
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{
			"error": "Unsupported Content-Type: " + r.Header.Get("Content-Type"),
		})
		return "", "", "", false
	}
}

// relay publishes a canonical event to the broker. The caller-facing voice
// flow continues even if telemetry relay fails.
func (s *Server) relay(ev wire.Event) {
	if err := s.container.Publisher.Publish(ev); err != nil {
		logger.WarnCF("webhook", "Event relay failed", map[string]interface{}{
			"type":  ev.Kind.String(),
			"error": err.Error(),
		})
	}
}

// fallback answers an unhandled internal error with the apology document and
// a 500 — the call keeps gathering input either way.
func (s *Server) fallback(w http.ResponseWriter, cause error) {
	logger.ErrorCF("webhook", "Internal error, serving fallback", map[string]interface{}{
		"error": cause.Error(),
	})
	doc, err := s.voice.Fallback()
	if err != nil {
		// No response object constructible at all: last-resort raw TwiML.
		doc = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Sorry, something went wrong. Let's try again.</Say></Response>`
	}
	writeTwiML(w, http.StatusInternalServerError, doc)
}
