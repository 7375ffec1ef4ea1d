// Package config loads voicebridge configuration: defaults, then an optional
// YAML file, then environment variables. Env wins, so deployments can keep a
// checked-in YAML baseline and override secrets per environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Both binaries share it; each
// reads the sections it needs.
type Config struct {
	LogLevel string `yaml:"log_level" env:"VB_LOG_LEVEL"`

	// PublicBaseURL is the externally reachable base URL of the webhook
	// server (an ngrok tunnel during development). Twilio posts callbacks to
	// PublicBaseURL + /status_callback and /process-input.
	PublicBaseURL string `yaml:"public_base_url" env:"VB_PUBLIC_BASE_URL"`

	Server  ServerConfig  `yaml:"server"`
	Broker  BrokerConfig  `yaml:"broker"`
	Twilio  TwilioConfig  `yaml:"twilio"`
	LLM     LLMConfig     `yaml:"llm"`
	History HistoryConfig `yaml:"history"`
	Janitor JanitorConfig `yaml:"janitor"`
}

// ServerConfig configures the webhook/dashboard HTTP server.
type ServerConfig struct {
	Host   string `yaml:"host" env:"VB_SERVER_HOST"`
	Port   int    `yaml:"port" env:"VB_SERVER_PORT"`
	APIKey string `yaml:"api_key" env:"VB_API_KEY"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// BrokerConfig configures the MQTT link.
type BrokerConfig struct {
	URL      string `yaml:"url" env:"VB_BROKER_URL"`
	Topic    string `yaml:"topic" env:"VB_BROKER_TOPIC"`
	ClientID string `yaml:"client_id" env:"VB_BROKER_CLIENT_ID"`
	Username string `yaml:"username" env:"VB_BROKER_USERNAME"`
	Password string `yaml:"password" env:"VB_BROKER_PASSWORD"`
}

// TwilioConfig configures the telephony capability.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `yaml:"auth_token" env:"TWILIO_AUTH_TOKEN"`
	FromNumber string `yaml:"from_number" env:"TWILIO_PHONE_NUMBER"`
	Voice      string `yaml:"voice" env:"APP_VOICE"`
}

// LLMConfig configures the LLM turn capability.
type LLMConfig struct {
	Provider       string `yaml:"provider" env:"VB_LLM_PROVIDER"`
	APIKey         string `yaml:"api_key" env:"VB_LLM_API_KEY"`
	Model          string `yaml:"model" env:"VB_LLM_MODEL"`
	BaseURL        string `yaml:"base_url" env:"VB_LLM_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"VB_LLM_TIMEOUT_SECONDS"`
}

// HistoryConfig configures the message history.
type HistoryConfig struct {
	DBPath               string `yaml:"db_path" env:"VB_HISTORY_DB"`
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds" env:"VB_DRAIN_INTERVAL_SECONDS"`
}

// JanitorConfig configures terminal-call archival.
type JanitorConfig struct {
	// Cron is a standard five-field cron expression checked once a minute.
	Cron string `yaml:"cron" env:"VB_JANITOR_CRON"`
	// RetentionMinutes keeps a terminal call in the tracker this long before
	// archival.
	RetentionMinutes int `yaml:"retention_minutes" env:"VB_JANITOR_RETENTION_MINUTES"`
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		PublicBaseURL: "http://localhost:5000",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Broker: BrokerConfig{
			URL:      "tcp://broker.hivemq.com:1883",
			Topic:    "voicebridge/messages",
			ClientID: "voicebridge-server",
		},
		Twilio: TwilioConfig{
			Voice: "Polly.Joanna",
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "llama3.2-vision",
			BaseURL:        "http://localhost:11434/v1",
			TimeoutSeconds: 10,
		},
		History: HistoryConfig{
			DBPath:               "voicebridge-history.db",
			DrainIntervalSeconds: 2,
		},
		Janitor: JanitorConfig{
			Cron:             "*/10 * * * *",
			RetentionMinutes: 60,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty and the file exists), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// optional file
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	return cfg, nil
}

// StatusCallbackURL is where the provider posts call lifecycle events.
func (c *Config) StatusCallbackURL() string {
	return c.PublicBaseURL + "/status_callback"
}

// ProcessInputURL is where the provider posts gathered caller input.
func (c *Config) ProcessInputURL() string {
	return c.PublicBaseURL + "/process-input"
}
