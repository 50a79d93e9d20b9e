package modules

import (
	"context"
	"errors"
	"log/slog"

	"go.uber.org/fx"

	"github.com/plumehq/plume/internal/completion"
	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/dispatch"
	"github.com/plumehq/plume/internal/mastodon"
	"github.com/plumehq/plume/internal/prefs"
	"github.com/plumehq/plume/internal/session"
	"github.com/plumehq/plume/internal/thread"
)

var FeedModule = fx.Module(
	"feed",
	fx.Provide(
		provideClient,
		provideResolver,
		provideDispatcher,
		provideStream,
	),
	fx.Invoke(runStream),
)

func provideClient(log *slog.Logger, cfg config.Config) (*mastodon.Client, error) {
	return mastodon.NewClient(log, cfg.Mastodon)
}

func provideResolver(log *slog.Logger, client *mastodon.Client, cfg config.Config) *thread.Resolver {
	return thread.NewResolver(log, client, cfg.Mastodon.Handle)
}

func provideDispatcher(
	log *slog.Logger,
	client *mastodon.Client,
	resolver *thread.Resolver,
	store *session.Store,
	engine *completion.Engine,
	prompts *prefs.Service,
	cfg config.Config,
) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, client, resolver, store, engine, prompts,
		cfg.Prompts, cfg.Completion.SystemPrompt, cfg.Mastodon.Handle, cfg.Mastodon.Domain)
}

func provideStream(log *slog.Logger, client *mastodon.Client, dispatcher *dispatch.Dispatcher) *mastodon.Stream {
	return mastodon.NewStream(log, client, dispatcher.HandleMention)
}

// runStream keeps the streaming connection alive for the lifetime of the
// application and shuts it down with the fx graph.
func runStream(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *slog.Logger, stream *mastodon.Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := stream.Run(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Error("stream terminated", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
