package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
)

// OpenAIProvider speaks the OpenAI chat completions API. With a custom base
// URL it also serves any OpenAI-compatible endpoint — notably a local Ollama
// instance, which needs no API key.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates the provider. baseURL may be empty for the
// hosted API; model may be empty to use the default.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Reply implements Provider.
func (p *OpenAIProvider) Reply(ctx context.Context, turns []call.Turn, userText string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt))
	for _, t := range turns {
		switch t.Speaker {
		case domain.SpeakerAgent:
			messages = append(messages, openai.AssistantMessage(t.Text))
		default:
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("llm: openai: empty response")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

var _ Provider = (*OpenAIProvider)(nil)
