package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/plumehq/plume/cmd/plume/modules"
	"github.com/plumehq/plume/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "plume",
		Short:         "plume replies to fediverse mentions with model-generated text",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plume: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the streaming feed and answer mentions",
		RunE: func(*cobra.Command, []string) error {
			app := fx.New(
				fx.Supply(modules.ConfigPath(configPath)),
				modules.InfrastructureModule,
				modules.ConversationModule,
				modules.FeedModule,
				fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
					return &fxevent.SlogLogger{Logger: log}
				}),
			)
			app.Run()
			return app.Err()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("plume %s\n", version.GetInfo())
		},
	}
}
