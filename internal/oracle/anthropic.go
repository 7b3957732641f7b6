package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend evaluates conversations through the messages API. Image
// attachments are converted from data URLs into base64 image blocks.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

func NewAnthropicBackend(apiKey, model string, httpClient *http.Client) *AnthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...), model: model}
}

func (a *AnthropicBackend) Name() string {
	return "anthropic"
}

func (a *AnthropicBackend) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	var messages []anthropic.MessageParam
	for _, t := range turns {
		var blocks []anthropic.ContentBlockParamUnion
		if t.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(t.Text))
		}
		if t.Image != "" {
			mime, payload, err := ParseDataURL(t.Image)
			if err != nil {
				slog.Warn("Skipping unparseable image attachment", "error", err)
			} else {
				blocks = append(blocks, anthropic.NewImageBlockBase64(mime, payload))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if t.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 500,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += b.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("anthropic returned no text blocks")
	}
	return out, nil
}
