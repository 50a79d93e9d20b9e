// Package modules wires the application graph for the serve command.
package modules

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/plumehq/plume/internal/config"
	"github.com/plumehq/plume/internal/logger"
	"github.com/plumehq/plume/internal/prefs"
)

// ConfigPath is the config file location from the CLI; empty falls back to
// the CONFIG_PATH environment variable and then the default path.
type ConfigPath string

var InfrastructureModule = fx.Module(
	"infrastructure",
	fx.Provide(
		provideConfig,
		provideLogger,
		providePrefs,
	),
)

func provideConfig(path ConfigPath) (config.Config, error) {
	cfgPath := string(path)
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	return config.Load(cfgPath)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func providePrefs(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*prefs.Service, error) {
	svc, err := prefs.NewService(log, cfg.Prefs)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return svc.Close()
		},
	})
	return svc, nil
}
