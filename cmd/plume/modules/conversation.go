package modules

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/plumehq/plume/internal/completion"
	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/models"
	"github.com/plumehq/plume/internal/safety"
	"github.com/plumehq/plume/internal/session"
)

var ConversationModule = fx.Module(
	"conversation",
	fx.Provide(
		provideSafetyFilter,
		provideRouter,
		provideEngine,
		provideSessionStore,
		provideSweeper,
	),
	fx.Invoke(
		wireEviction,
		runSweeper,
	),
)

func provideSafetyFilter(log *slog.Logger, cfg config.Config) *safety.Filter {
	return safety.NewFilter(log, cfg.Completion.ErrorText, nil)
}

func provideRouter(log *slog.Logger, cfg config.Config) (*models.Router, error) {
	return models.NewRouter(log, cfg.Models)
}

func provideEngine(log *slog.Logger, router *models.Router, filter *safety.Filter, cfg config.Config) *completion.Engine {
	return completion.NewEngine(log, router, filter, cfg.Completion)
}

func provideSessionStore(log *slog.Logger, cfg config.Config) *session.Store {
	return session.NewStore(log, cfg.Session)
}

func provideSweeper(log *slog.Logger, store *session.Store, cfg config.Config) (*session.Sweeper, error) {
	return session.NewSweeper(log, store, cfg.Session.SweepSpec)
}

// wireEviction forgets engine history whenever the store drops a session,
// keeping the two views of a conversation in sync.
func wireEviction(store *session.Store, engine *completion.Engine) {
	store.SetEvictHook(func(sessionID string) {
		engine.Forget(sessionID)
	})
}

func runSweeper(lc fx.Lifecycle, sweeper *session.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}
