package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API through the official SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiClient creates a client for model. The API key is mandatory.
func NewGeminiClient(ctx context.Context, log *slog.Logger, model, apiKey string) (*GeminiClient, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini client for %s: %w", model, ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		logger: log.With(slog.String("client", "gemini"), slog.String("model", model)),
	}, nil
}

// Complete sends the message list and returns the generated text. System
// turns are folded into the system instruction; user/model turns become the
// content history.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, genConfig := buildGeminiRequest(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func buildGeminiRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []string
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if strings.TrimSpace(msg.Text) != "" {
				systemParts = append(systemParts, msg.Text)
			}
			continue
		}
		var role genai.Role = genai.RoleUser
		if msg.Role == RoleModel {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(msg.Text)}
		if msg.Image != nil {
			parts = append(parts, genai.NewPartFromBytes(msg.Image.Data, msg.Image.Mime))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	var genConfig *genai.GenerateContentConfig
	if len(systemParts) > 0 {
		genConfig = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser),
		}
	}
	return contents, genConfig
}
