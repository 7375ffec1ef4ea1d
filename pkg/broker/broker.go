// Package broker manages the persistent MQTT link between the webhook server
// process and the dashboard process. Both sides publish and subscribe on one
// fixed topic at QoS 1, so a canonical event produced in either process shows
// up in the other at least once.
package broker

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

// BrokerError is a typed error for link failures.
type BrokerError string

func (e BrokerError) Error() string { return string(e) }

const (
	// ErrNotConnected is returned by Publish while the link is down.
	ErrNotConnected BrokerError = "broker: not connected"
)

// Handler receives every decoded inbound event. It is invoked on the MQTT
// receive goroutine, concurrently with HTTP handler goroutines, and must only
// touch thread-safe structures (in practice: queue.EventQueue.Push).
type Handler func(wire.Event)

// Config holds the connection settings for the link.
type Config struct {
	URL      string // e.g. "tcp://broker.hivemq.com:1883"
	ClientID string
	Topic    string
	Username string
	Password string

	// ConnectTimeout bounds the initial connect handshake. Zero means 10s.
	ConnectTimeout time.Duration
}

// Link is the broker link. One instance per process, created at startup and
// torn down on shutdown.
type Link struct {
	cfg     Config
	handler Handler
	client  mqtt.Client

	mu        sync.Mutex
	connected bool
}

// New creates an unconnected link. The handler is the single registered
// on-message subscription for the process.
func New(cfg Config, handler Handler) *Link {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Link{cfg: cfg, handler: handler}
}

// Connect establishes the session, subscribes the configured topic at QoS 1
// and starts the background receive loop. It is idempotent: calling it on a
// live link is a no-op. Connection failures are returned to the caller;
// retry/backoff policy belongs to the process supervisor, not the link.
// After the initial success the client re-connects and re-subscribes on its
// own when the broker drops the session.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil && l.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(l.cfg.URL).
		SetClientID(l.cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectTimeout(l.cfg.ConnectTimeout)

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}

	// Subscribe inside the connect handler so the subscription survives
	// broker-side session loss and auto-reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.InfoCF("broker", "Connected", map[string]interface{}{
			"url":       l.cfg.URL,
			"client_id": l.cfg.ClientID,
		})
		token := c.Subscribe(l.cfg.Topic, 1, l.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.ErrorCF("broker", "Subscribe failed", map[string]interface{}{
				"topic": l.cfg.Topic,
				"error": err.Error(),
			})
			return
		}
		logger.InfoCF("broker", "Subscribed", map[string]interface{}{
			"topic": l.cfg.Topic,
			"qos":   1,
		})
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logger.WarnCF("broker", "Connection lost", map[string]interface{}{
			"error": err.Error(),
		})
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(l.cfg.ConnectTimeout) {
		return fmt.Errorf("broker: connect to %s: timeout after %s", l.cfg.URL, l.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: connect to %s: %w", l.cfg.URL, err)
	}

	l.client = client
	l.connected = true
	return nil
}

// onMessage decodes an inbound message and hands it to the registered
// handler. Malformed payloads are logged and dropped — they must never crash
// the receive loop and never reach the queue.
func (l *Link) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ev, err := wire.Unmarshal(msg.Payload())
	if err != nil {
		logger.ErrorCF("broker", "Dropping malformed message", map[string]interface{}{
			"topic": msg.Topic(),
			"error": err.Error(),
		})
		return
	}

	logger.DebugCF("broker", "Message received", map[string]interface{}{
		"topic": msg.Topic(),
		"type":  ev.Kind.String(),
	})

	if l.handler != nil {
		l.handler(ev)
	}
}

// Publish stamps the event if needed, serializes it and sends it on the
// configured topic at QoS 1. It waits for the transport handshake, not for
// end-to-end delivery. Returns ErrNotConnected while the link is down.
func (l *Link) Publish(ev wire.Event) error {
	l.mu.Lock()
	client := l.client
	l.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	ev.Stamp()
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}

	token := client.Publish(l.cfg.Topic, 1, false, payload)
	if !token.WaitTimeout(l.cfg.ConnectTimeout) {
		return fmt.Errorf("broker: publish: timeout after %s", l.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}

	logger.DebugCF("broker", "Message published", map[string]interface{}{
		"topic": l.cfg.Topic,
		"type":  ev.Kind.String(),
	})
	return nil
}

// Connected reports whether the link currently holds a live session.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && l.client != nil && l.client.IsConnected()
}

// Disconnect stops the receive loop and closes the session. Safe to call
// multiple times; the second call is a no-op.
func (l *Link) Disconnect() {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.connected = false
	l.mu.Unlock()

	if client == nil {
		return
	}
	client.Disconnect(250) // quiesce window in ms, matches paho examples
	logger.InfoC("broker", "Disconnected")
}
