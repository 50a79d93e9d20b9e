package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// ErrMissingAPIKey is returned when a provider requires a credential that is
// not configured.
var ErrMissingAPIKey = errors.New("api key is required")

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for model. A custom base URL allows
// self-hosted OpenAI-compatible servers, which may not require a key.
func NewOpenAIClient(log *slog.Logger, model, apiKey, baseURL string) (*OpenAIClient, error) {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if strings.TrimSpace(apiKey) == "" && baseURL == defaultOpenAIBaseURL {
		return nil, fmt.Errorf("openai client for %s: %w", model, ErrMissingAPIKey)
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		httpClient: &http.Client{},
		logger:     log.With(slog.String("client", "openai"), slog.String("model", model)),
	}, nil
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the message list and returns the first choice's text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := openAIRequest{Model: c.model}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, toOpenAIMessage(msg))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func toOpenAIMessage(msg Message) openAIMessage {
	role := string(msg.Role)
	if msg.Role == RoleModel {
		role = "assistant"
	}
	if msg.Image == nil {
		return openAIMessage{Role: role, Content: msg.Text}
	}
	encoded := base64.StdEncoding.EncodeToString(msg.Image.Data)
	parts := []openAIContentPart{
		{Type: "text", Text: msg.Text},
		{Type: "image_url", ImageURL: &openAIImageURL{
			URL: "data:" + msg.Image.Mime + ";base64," + encoded,
		}},
	}
	return openAIMessage{Role: role, Content: parts}
}
