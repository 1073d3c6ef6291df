package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"propertybridge/config"
	"propertybridge/utils"
)

func main() {
	cfg := config.Load()

	var debug bool
	root := &cobra.Command{
		Use:           "propertybridge",
		Short:         "Ingest property listings and requests from chats and marketplaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	newLogger := func() *utils.Logger {
		level := cfg.LogLevel
		if debug {
			level = "debug"
		}
		return utils.NewLogger(level, cfg.LogFormat)
	}

	root.AddCommand(
		serveCommand(cfg, newLogger),
		scanCommand(cfg, newLogger),
		scrapeCommand(cfg, newLogger),
		matchCommand(cfg, newLogger),
		reportCommand(cfg, newLogger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger := newLogger()
		logger.Error("%v", err)
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}
