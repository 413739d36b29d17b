// ABOUTME: Anthropic-backed Engine using the official Go SDK
// ABOUTME: Translates role-tagged turns into Messages API params, whole or streamed

package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024

	systemPrompt = "You are a helpful assistant inside a chat application. " +
		"Reply to the latest user message, using the earlier messages only as context. " +
		"Keep replies conversational and concise."
)

// AnthropicEngine calls the Anthropic Messages API.
type AnthropicEngine struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicEngine creates an engine for the given API key. An empty
// model selects the default.
func NewAnthropicEngine(apiKey, model string) *AnthropicEngine {
	if model == "" {
		model = defaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicEngine{client: &client, model: model}
}

// NewAnthropicEngineWithClient creates an engine around an existing client.
func NewAnthropicEngineWithClient(client *anthropic.Client, model string) *AnthropicEngine {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicEngine{client: client, model: model}
}

// Complete returns the whole reply in one call.
func (e *AnthropicEngine) Complete(ctx context.Context, turns []Turn) (string, error) {
	resp, err := e.client.Messages.New(ctx, e.buildParams(turns))
	if err != nil {
		return "", fmt.Errorf("messages call: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// Stream invokes onChunk for each text delta and returns the concatenation.
func (e *AnthropicEngine) Stream(ctx context.Context, turns []Turn, onChunk func(string)) (string, error) {
	stream := e.client.Messages.NewStreaming(ctx, e.buildParams(turns))

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				sb.WriteString(delta.Text)
				onChunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("messages stream: %w", err)
	}
	return sb.String(), nil
}

func (e *AnthropicEngine) buildParams(turns []Turn) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
	}
}
