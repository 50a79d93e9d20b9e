// Package mastodon is the client for the social-network API: status fetch,
// thread context, posting, and the streaming notification feed.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/plumehq/plume/internal/config"
)

// ErrMissingCredential is returned when server or access token is not configured.
var ErrMissingCredential = errors.New("mastodon server and access_token are required")

const maxAttachmentBytes = 8 << 20

// Client talks to a Mastodon-compatible REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a REST client. Posting is throttled to cfg.PostsPerMin.
func NewClient(log *slog.Logger, cfg config.MastodonConfig) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	server := strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	if server == "" || strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, ErrMissingCredential
	}
	perMin := cfg.PostsPerMin
	if perMin <= 0 {
		perMin = 10
	}
	return &Client{
		baseURL:    server,
		token:      strings.TrimSpace(cfg.AccessToken),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perMin/60.0), 1),
		logger:     log.With(slog.String("service", "mastodon")),
	}, nil
}

// GetStatus fetches a single status by id.
func (c *Client) GetStatus(ctx context.Context, id string) (Status, error) {
	var status Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statuses/"+id, nil, &status); err != nil {
		return Status{}, fmt.Errorf("get status %s: %w", id, err)
	}
	return status, nil
}

// GetContext fetches the reply-thread ancestors and descendants of a status.
func (c *Client) GetContext(ctx context.Context, id string) (Context, error) {
	var tc Context
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/statuses/"+id+"/context", nil, &tc); err != nil {
		return Context{}, fmt.Errorf("get context %s: %w", id, err)
	}
	return tc, nil
}

// PostStatus publishes a new status. An idempotency key guards against
// double-posting on transport-level retries; a duplicate reply after a
// completion retry remains an accepted risk.
func (c *Client) PostStatus(ctx context.Context, req PostRequest) (Status, error) {
	if strings.TrimSpace(req.Status) == "" {
		return Status{}, fmt.Errorf("post status: empty body")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Status{}, fmt.Errorf("post status: %w", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Status{}, fmt.Errorf("post status: %w", err)
	}
	var status Status
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, "/api/v1/statuses", bytes.NewReader(payload), headers, &status); err != nil {
		return Status{}, fmt.Errorf("post status: %w", err)
	}
	return status, nil
}

// Download fetches an attachment and returns its bytes and content type.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// StreamURL returns the websocket endpoint for the user notification stream.
func (c *Client) StreamURL() string {
	ws := c.baseURL
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/api/v1/streaming?stream=user&access_token=" + c.token
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	return c.do(ctx, method, path, body, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
