package main

import (
	"newsindex/api"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API without ingesting",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, err := globalApp.Query(ctx)
	if err != nil {
		return err
	}
	return api.NewServer(globalConfig.HTTP.Addr, globalApp.Router(svc, nil), globalLog).Run(ctx)
}
