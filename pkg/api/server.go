// Voicebridge — webhook ingress + dashboard API server.
// Receives Twilio callbacks, relays canonical events over the broker, and
// serves REST + WebSocket endpoints for whatever renders the dashboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/config"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/voice"
)

// Server is the HTTP server for the webhook process.
type Server struct {
	cfg       *config.Config
	container *app.Container
	voice     *voice.Builder
	wsHub     *WSHub
	bridge    *EventBridge
	startTime time.Time
	server    *http.Server
}

// NewServer creates the server. The voice builder and container are owned by
// the process entry point and injected here.
func NewServer(cfg *config.Config, container *app.Container, vb *voice.Builder) *Server {
	s := &Server{
		cfg:       cfg,
		container: container,
		voice:     vb,
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub()
	s.bridge = NewEventBridge(container.EventBus, s.wsHub)
	return s
}

// Start begins listening on the configured host:port. It returns immediately;
// the listener runs on its own goroutine until Stop.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	// Provider webhook surface — no API key, Twilio cannot send custom headers.
	mux.HandleFunc("/status_callback", s.handleStatusCallback)
	mux.HandleFunc("/process-input", s.handleProcessInput)

	// Dashboard surface
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/calls", s.handleCalls)
	mux.HandleFunc("/api/calls/", s.handleCallDetail)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      corsMiddleware(apiKeyMiddleware(s.cfg.Server.APIKey, mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Server starting", map[string]interface{}{
		"addr": s.cfg.Server.Addr(),
	})

	go s.wsHub.Run(ctx)
	s.bridge.Attach()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// apiKeyMiddleware guards /api/ routes when a key is configured. The webhook
// endpoints are always open: their caller is the telephony provider.
func apiKeyMiddleware(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key == "" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			provided = r.URL.Query().Get("api_key") // WebSocket clients can't set headers
		}
		if provided != key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Shared handlers & helpers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, _ := s.container.HistoryService.Count()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"broker":         brokerState(s.container.Publisher),
		"history_length": count,
		"queue_depth":    s.container.Queue.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// brokerState reports link health when the publisher exposes it.
func brokerState(p app.Publisher) string {
	if c, ok := p.(interface{ Connected() bool }); ok {
		if c.Connected() {
			return "connected"
		}
		return "disconnected"
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeTwiML(w http.ResponseWriter, status int, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprint(w, doc)
}
