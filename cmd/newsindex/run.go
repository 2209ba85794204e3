package main

import (
	"context"
	"errors"

	"newsindex/api"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingestion and the HTTP API",
	Long:  "Start every configured partition, the retention janitor, the replay consumer and the HTTP API. Stops on SIGINT or SIGTERM.",
	Args:  cobra.NoArgs,
	RunE:  runIngestion,
}

var runNoHTTP bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "do not start the HTTP API")
}

func runIngestion(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	server := &deferredServer{}
	ing, err := globalApp.Ingestion(ctx, server)
	if err != nil {
		return err
	}
	if !runNoHTTP {
		server.Server = api.NewServer(globalConfig.HTTP.Addr, globalApp.Router(ing.Search, ing), globalLog)
	}

	globalLog.Info("newsindex running", "partitions", len(globalConfig.Partitions), "http", !runNoHTTP)
	if err := ing.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	globalLog.Info("newsindex stopped")
	return nil
}

// deferredServer lets the router be built from the Ingestion it serves.
type deferredServer struct {
	*api.Server
}

func (d *deferredServer) Run(ctx context.Context) error {
	if d.Server == nil {
		return nil
	}
	return d.Server.Run(ctx)
}
