package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/domain/call"
)

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates the provider. model may be empty for the default.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Reply implements Provider.
func (p *AnthropicProvider) Reply(ctx context.Context, turns []call.Turn, userText string) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns)+1)
	for _, t := range turns {
		switch t.Speaker {
		case domain.SpeakerAgent:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userText)))

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 256, // spoken replies, keep them short
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("llm: anthropic: empty response")
	}
	return text, nil
}

var _ Provider = (*AnthropicProvider)(nil)
