package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"newsindex/app"
	"newsindex/config"
	"newsindex/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string

	globalConfig *config.Config
	globalLog    *slog.Logger
	globalApp    *app.App
)

var rootCmd = &cobra.Command{
	Use:   "newsindex",
	Short: "Streaming news ingestion into a vector index",
	Long: `newsindex polls news providers, cleans and deduplicates articles,
embeds them and upserts them into a vector index, and answers
free-text similarity queries against that index.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalConfig = cfg
		globalLog = logger.New(cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(globalLog)
		globalApp = app.New(cfg, globalLog)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if globalApp != nil {
			if err := globalApp.Close(); err != nil {
				globalLog.Warn("close", "error", err)
			}
			globalApp = nil
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NEWSINDEX_CONFIG"), "path to a YAML config file")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
