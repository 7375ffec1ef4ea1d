// Dashboard REST surface — place calls, inspect sessions, page the message
// history. Consumed read-only by whatever renders the dashboard.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/voicebridge/voicebridge/pkg/domain/call"
	"github.com/voicebridge/voicebridge/pkg/telephony"
)

// handleCalls serves GET /api/calls (list tracked calls) and POST /api/calls
// (place an outbound call).
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		calls, err := s.container.CallService.ListAll()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out := make([]map[string]interface{}, 0, len(calls))
		for _, c := range calls {
			out = append(out, callSummary(c))
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		s.handlePlaceCall(w, r)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !telephony.ValidPhoneNumber(req.To) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone number must be E.164, e.g. +15551234567"})
		return
	}

	doc, err := s.voice.Greeting()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	sid, err := s.container.Telephony.PlaceCall(req.To, doc, s.cfg.StatusCallbackURL())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	if _, err := s.container.CallService.TrackPlaced(sid, req.To); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"sid": sid,
		"to":  req.To,
	})
}

// handleCallDetail serves GET /api/calls/{sid}: tracker state plus, when
// available, the provider's live status.
func (s *Server) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimPrefix(r.URL.Path, "/api/calls/")
	if sid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "call sid required"})
		return
	}

	c, err := s.container.CallService.Get(sid)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}

	out := callSummary(c)
	out["turns"] = c.History()

	if live, err := s.container.Telephony.FetchStatus(sid); err == nil {
		out["live_status"] = live.String()
	}

	writeJSON(w, http.StatusOK, out)
}

// handleHistory serves GET /api/history?offset=&limit= — the paginated,
// append-only message history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET required"})
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.container.HistoryService.Page(offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	total, err := s.container.HistoryService.Count()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	items := make([]map[string]interface{}, 0, len(page))
	for _, st := range page {
		items = append(items, map[string]interface{}{
			"seq":       st.Seq,
			"type":      st.Event.Kind.String(),
			"timestamp": st.Event.Timestamp,
			"payload":   st.Event.Payload,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"offset": offset,
		"items":  items,
	})
}

func callSummary(c *call.Call) map[string]interface{} {
	return map[string]interface{}{
		"sid":        c.Sid,
		"to":         c.To,
		"status":     c.Status.String(),
		"turn_count": c.TurnCount(),
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}
