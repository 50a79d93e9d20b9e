package mastodon

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// reconnectDelay is fixed; reconnect attempts repeat indefinitely with no
// backoff growth.
const reconnectDelay = 5 * time.Second

// Handler receives mention notifications from the stream, one at a time in
// arrival order. The stream does not read the next event until the handler
// returns, which keeps session mutation sequential per process.
type Handler func(ctx context.Context, n Notification)

type streamEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// Stream consumes the user notification websocket feed.
type Stream struct {
	client  *Client
	handler Handler
	logger  *slog.Logger
}

// NewStream creates a Stream delivering mention notifications to handler.
func NewStream(log *slog.Logger, client *Client, handler Handler) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		client:  client,
		handler: handler,
		logger:  log.With(slog.String("service", "stream")),
	}
}

// Run connects and reads events until ctx is cancelled, reconnecting after
// a fixed delay on every error or close.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream disconnected", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.client.StreamURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 22)
	s.logger.Info("stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var event streamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Debug("skip undecodable event", slog.Any("error", err))
			continue
		}
		if event.Event != "notification" {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(event.Payload), &n); err != nil {
			s.logger.Warn("skip undecodable notification", slog.Any("error", err))
			continue
		}
		if n.Type != NotificationMention || n.Status == nil {
			continue
		}
		s.dispatch(ctx, n)
	}
}

func (s *Stream) dispatch(ctx context.Context, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", slog.Any("panic", r), slog.String("notification_id", n.ID))
		}
	}()
	s.handler(ctx, n)
}
