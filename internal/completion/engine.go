// Package completion produces filtered reply text from the active backend,
// retrying across candidates on transient failure.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/models"
	"github.com/plumehq/plume/internal/models/clients"
	"github.com/plumehq/plume/internal/safety"
	"github.com/plumehq/plume/internal/thread"
)

// ErrEmptyResponse marks a backend call that returned no text.
var ErrEmptyResponse = errors.New("empty response")

// Request carries the material for one completion call.
type Request struct {
	SystemPrompt   string
	ConversationID string
	SpeakerName    string
	// Message may be empty, meaning the reply relies entirely on Transcript.
	Message string
	// Transcript is non-empty only for freshly (re)constructed sessions;
	// on later turns the engine's own history for the conversation is used.
	Transcript []thread.Turn
	Image      *clients.Image
}

// Engine owns per-conversation message history and the retry policy around
// the model router.
type Engine struct {
	router     *models.Router
	filter     *safety.Filter
	classifier *Classifier
	cfg        config.CompletionConfig
	timeout    time.Duration

	mu        sync.Mutex
	histories map[string][]clients.Message

	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(log *slog.Logger, router *models.Router, filter *safety.Filter, cfg config.CompletionConfig) *Engine {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "completion"))
	return &Engine{
		router:     router,
		filter:     filter,
		classifier: NewClassifier(log, cfg),
		cfg:        cfg,
		timeout:    cfg.TimeoutDuration(),
		histories:  map[string][]clients.Message{},
		now:        time.Now,
		logger:     log,
	}
}

// Forget drops the stored history for a conversation. Wired as the session
// store's eviction hook so engine history cannot outlive its session.
func (e *Engine) Forget(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.histories, conversationID)
}

// Complete runs the completion state machine and always returns some reply
// text: genuine model output, or the fixed error text on any failure path.
//
// Attempts are bounded by distinctBackendsTried*3+1, so the call terminates
// even when every backend fails permanently.
func (e *Engine) Complete(ctx context.Context, req Request) string {
	if !e.filter.InputSafe(req.Message) {
		return e.filter.ErrorText()
	}
	// On a freshly seeded conversation the mention's text arrives as the
	// transcript's final turn, not as Message; it gets the same guard.
	if n := len(req.Transcript); n > 0 {
		if last := req.Transcript[n-1]; last.Speaker == thread.SpeakerOther && !e.filter.InputSafe(last.Text) {
			return e.filter.ErrorText()
		}
	}

	e.router.TouchUsage()

	history := e.seedHistory(req)
	if len(history) == 0 {
		e.logger.Warn("nothing to complete", slog.String("conversation_id", req.ConversationID))
		return e.filter.ErrorText()
	}

	tried := map[string]bool{}
	for attempt := 1; ; attempt++ {
		backend := e.router.Current()
		tried[backend] = true
		if attempt > len(tried)*3+1 {
			e.logger.Error("completion attempts exhausted",
				slog.String("conversation_id", req.ConversationID),
				slog.Int("attempts", attempt-1),
				slog.Int("backends_tried", len(tried)))
			return e.filter.ErrorText()
		}

		reply, err := e.invoke(ctx, backend, req, history)
		if err == nil {
			synthesized := e.systemTurn(backend, req)
			filtered := e.filter.FilterOutput(reply, req.SystemPrompt, synthesized)
			e.record(req.ConversationID, history, filtered)
			return filtered
		}

		e.logger.Warn("backend invocation failed",
			slog.String("backend", backend),
			slog.Bool("rate_limited", e.classifier.RateLimit(err)),
			slog.Bool("not_found", e.classifier.NotFound(err)),
			slog.Any("error", err))
		if !e.router.Advance() {
			return e.filter.ErrorText()
		}
	}
}

// seedHistory replaces the conversation history with the supplied transcript
// when present, then appends the new message, and returns a working copy.
func (e *Engine) seedHistory(req Request) []clients.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(req.Transcript) > 0 {
		seeded := make([]clients.Message, 0, len(req.Transcript))
		for _, turn := range req.Transcript {
			role := clients.RoleUser
			if turn.Speaker == thread.SpeakerSelf {
				role = clients.RoleModel
			}
			seeded = append(seeded, clients.Message{Role: role, Text: turn.Text})
		}
		e.histories[req.ConversationID] = seeded
	}
	if req.Message != "" {
		e.histories[req.ConversationID] = append(e.histories[req.ConversationID], clients.Message{
			Role: clients.RoleUser,
			Text: req.Message,
		})
	}

	history := e.histories[req.ConversationID]
	out := make([]clients.Message, len(history))
	copy(out, history)
	return out
}

func (e *Engine) record(conversationID string, history []clients.Message, reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.histories[conversationID] = append(history, clients.Message{
		Role: clients.RoleModel,
		Text: reply,
	})
}

// invoke makes up to the configured number of inline attempts against one
// backend. Rate-limit and not-found class errors abort the inline loop at
// once so the caller can switch backends.
func (e *Engine) invoke(ctx context.Context, backendID string, req Request, history []clients.Message) (string, error) {
	client, err := e.router.Client(ctx, backendID)
	if err != nil {
		return "", fmt.Errorf("client for %s: %w", backendID, err)
	}
	messages := e.assemble(backendID, req, history)

	var lastErr error
	for i := 0; i < e.cfg.InlineAttempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		reply, err := client.Complete(callCtx, messages)
		cancel()
		if err == nil && reply != "" {
			return reply, nil
		}
		if err == nil {
			err = ErrEmptyResponse
		}
		lastErr = err
		if e.classifier.SwitchImmediately(err) {
			break
		}
	}
	return "", lastErr
}

// assemble prepends the synthesized system turn, truncates the history to
// the configured context length (the system turn is never dropped), and
// attaches the image to the final user turn when the backend supports it.
func (e *Engine) assemble(backendID string, req Request, history []clients.Message) []clients.Message {
	if len(history) > e.cfg.MaxContextTurns {
		history = history[len(history)-e.cfg.MaxContextTurns:]
	}

	messages := make([]clients.Message, 0, len(history)+1)
	messages = append(messages, clients.Message{
		Role: clients.RoleSystem,
		Text: e.systemTurn(backendID, req),
	})
	messages = append(messages, history...)

	if req.Image != nil && e.router.SupportsImages(backendID) {
		for i := len(messages) - 1; i > 0; i-- {
			if messages[i].Role == clients.RoleUser {
				messages[i].Image = req.Image
				break
			}
		}
	}
	return messages
}

func (e *Engine) systemTurn(backendID string, req Request) string {
	header := fmt.Sprintf("Current date and time: %s\nActive model: %s",
		e.now().Format(time.RFC1123), backendID)
	if req.SpeakerName != "" && e.filter.InputSafe(req.SpeakerName) {
		header += "\nYou are talking with: " + req.SpeakerName
	}
	if req.SystemPrompt == "" {
		return header
	}
	return header + "\n\n" + req.SystemPrompt
}
