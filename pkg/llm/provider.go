// Package llm adapts external LLM APIs to the single turn operation the call
// tracker needs: given the ordered conversation so far and the caller's new
// utterance, produce the agent's next spoken line.
package llm

import (
	"context"
	"fmt"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
)

// SystemPrompt frames every call. Responses are spoken aloud, so the model is
// asked to keep them short and natural.
const SystemPrompt = "You are a helpful AI assistant handling phone calls. Keep responses clear, concise, and natural."

// Provider produces the agent's reply for one conversation turn.
// Implementations must honor the context deadline: the webhook request that
// triggers a turn is itself bounded by the provider's call-flow timeout.
type Provider interface {
	// Reply returns the agent's next line given the full ordered turn
	// history and the caller's new utterance.
	Reply(ctx context.Context, turns []call.Turn, userText string) (string, error)
}

// Config selects and configures a provider implementation.
type Config struct {
	Provider domain.ProviderType
	APIKey   string
	Model    string
	BaseURL  string // OpenAI-compatible endpoint override (Ollama, proxies)
}

// NewProvider builds the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case domain.ProviderOpenAI, domain.ProviderOllama:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case domain.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
}
