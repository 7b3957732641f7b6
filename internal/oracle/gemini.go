package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

// GeminiBackend is the default reasoning provider, matching the multimodal
// model the gatekeeper was built around.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

const geminiAck = "I understand. I will evaluate internet access requests, require proof for >10 minutes, and respond in JSON format only."

func NewGeminiBackend(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (g *GeminiBackend) Name() string {
	return "gemini"
}

func (g *GeminiBackend) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	// The system prompt rides as the first user turn with a model ack, the
	// way the Gemini chat contract expects priming.
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: system}}},
		{Role: "model", Parts: []*genai.Part{{Text: geminiAck}}},
	}

	for _, t := range turns {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		var parts []*genai.Part
		if t.Text != "" {
			parts = append(parts, &genai.Part{Text: t.Text})
		}
		if t.Image != "" {
			mime, payload, err := ParseDataURL(t.Image)
			if err != nil {
				slog.Warn("Skipping unparseable image attachment", "error", err)
			} else if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 500,
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var out string
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out += part.Text
			}
		}
	}
	if out == "" {
		return "", fmt.Errorf("gemini returned empty candidate")
	}
	return out, nil
}
