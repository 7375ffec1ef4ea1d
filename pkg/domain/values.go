package domain

// ---------------------------------------------------------------------------
// Shared value objects — used across bounded contexts
// ---------------------------------------------------------------------------

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

func (s Speaker) String() string { return string(s) }

// ---------------------------------------------------------------------------

// ProviderType represents the kind of LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama" // OpenAI-compatible local endpoint
)

func (pt ProviderType) String() string { return string(pt) }

// ---------------------------------------------------------------------------

// ConnectionStatus represents the health state of any connectable resource.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusError        ConnectionStatus = "error"
)

func (cs ConnectionStatus) String() string { return string(cs) }

// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
