package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
)

// Version is set via ldflags during build.
var Version = "dev"

type configKey struct{}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seedbox_aria2",
		Short:         "Hands torrent downloads to aria2 and steers them through file selection",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				slog.Error("config error", "err", err)
				return err
			}

			logger := logctx.NewLogger(os.Stdout, cfg.SlogLevel())
			slog.SetDefault(logger)

			ctx := logctx.WithLogger(cmd.Context(), logger)
			cmd.SetContext(context.WithValue(ctx, configKey{}, cfg))

			return nil
		},
	}

	root.AddCommand(newServeCmd(), newAddCmd(), newListCmd())

	root.SetContext(context.Background())

	return root
}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(configKey{}).(*config.Config)
	return cfg
}

func fail(cmd *cobra.Command, err error) error {
	logctx.LoggerFromContext(cmd.Context()).Error("fatal error", "err", err)
	return fmt.Errorf("%s: %w", cmd.Name(), err)
}
