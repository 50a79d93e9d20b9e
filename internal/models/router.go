// Package models owns the ordered backend candidate list, the active
// selection, and the per-backend client cache.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/models/clients"
)

// ErrNoCandidates is returned when the configuration lists no backends.
var ErrNoCandidates = errors.New("at least one model candidate is required")

// ClientFactory constructs a client for a backend id ("provider/model-id").
type ClientFactory func(ctx context.Context, backendID string) (clients.Client, error)

// Router selects the active backend. Index 0 is the primary; after a quiet
// period the router reverts to it automatically.
type Router struct {
	mu          sync.Mutex
	cfg         config.ModelsConfig
	candidates  []string
	active      int
	lastSwitch  time.Time
	revertAfter time.Duration
	clients     map[string]clients.Client
	factory     ClientFactory
	now         func() time.Time
	logger      *slog.Logger
}

// NewRouter creates a Router over the configured candidates and verifies
// that every candidate's provider carries its mandatory credential, so a
// misconfigured process fails at startup rather than on first mention.
func NewRouter(log *slog.Logger, cfg config.ModelsConfig) (*Router, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	r := &Router{
		cfg:         cfg,
		candidates:  cfg.Candidates,
		revertAfter: cfg.RevertAfterDuration(),
		clients:     map[string]clients.Client{},
		now:         time.Now,
		logger:      log.With(slog.String("service", "models")),
	}
	r.factory = r.buildClient
	for _, candidate := range r.candidates {
		if err := r.validateCandidate(candidate); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetFactory replaces the client factory; used by tests and the composition
// root when a custom provider set is wired.
func (r *Router) SetFactory(factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

// Current returns the active backend id.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.candidates[r.active]
}

// Candidates returns the number of configured backends.
func (r *Router) Candidates() int {
	return len(r.candidates)
}

// TouchUsage reverts to the primary backend when the active index is
// non-primary and no switch happened within the revert window. It reports
// whether a revert occurred.
func (r *Router) TouchUsage() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == 0 {
		return false
	}
	if r.now().Sub(r.lastSwitch) < r.revertAfter {
		return false
	}
	r.logger.Info("reverting to primary backend",
		slog.String("from", r.candidates[r.active]),
		slog.String("to", r.candidates[0]))
	r.active = 0
	r.lastSwitch = r.now()
	return true
}

// Advance moves to the next candidate, wrapping around. With a single
// candidate there is nothing to advance to and Advance reports false.
func (r *Router) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.candidates) < 2 {
		return false
	}
	from := r.candidates[r.active]
	r.active = (r.active + 1) % len(r.candidates)
	r.lastSwitch = r.now()
	r.logger.Warn("switching backend",
		slog.String("from", from),
		slog.String("to", r.candidates[r.active]))
	return true
}

// ActiveIndex returns the current candidate index.
func (r *Router) ActiveIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Client returns the cached client for backendID, constructing it on first
// use. Construction is serialized by the router lock, so concurrent first
// use yields a single instance.
func (r *Router) Client(ctx context.Context, backendID string) (clients.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[backendID]; ok {
		return client, nil
	}
	client, err := r.factory(ctx, backendID)
	if err != nil {
		return nil, err
	}
	r.clients[backendID] = client
	return client, nil
}

func splitBackendID(backendID string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(backendID, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("invalid backend id %q, want provider/model-id", backendID)
	}
	return provider, model, nil
}

func (r *Router) validateCandidate(backendID string) error {
	provider, _, err := splitBackendID(backendID)
	if err != nil {
		return err
	}
	pc := r.cfg.Providers[provider]
	switch provider {
	case "gemini", "google":
		if strings.TrimSpace(pc.APIKey) == "" {
			return fmt.Errorf("backend %s: %w", backendID, clients.ErrMissingAPIKey)
		}
	default:
		if strings.TrimSpace(pc.APIKey) == "" && strings.TrimSpace(pc.BaseURL) == "" {
			return fmt.Errorf("backend %s: %w", backendID, clients.ErrMissingAPIKey)
		}
	}
	return nil
}

func (r *Router) buildClient(ctx context.Context, backendID string) (clients.Client, error) {
	provider, model, err := splitBackendID(backendID)
	if err != nil {
		return nil, err
	}
	pc := r.cfg.Providers[provider]
	switch provider {
	case "gemini", "google":
		return clients.NewGeminiClient(ctx, r.logger, model, pc.APIKey)
	default:
		// Any other provider is assumed to expose an OpenAI-compatible API.
		return clients.NewOpenAIClient(r.logger, model, pc.APIKey, pc.BaseURL)
	}
}
