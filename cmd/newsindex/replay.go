package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <partition>",
	Short: "Reset a partition's checkpoint",
	Long: `Overwrite the stored checkpoint of a partition so the next run fetches
from the given cursor. Without --cursor the partition restarts from its
provider's initial cursor. Already indexed articles are dropped by
deduplication when they are fetched again.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var replayCursor string

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayCursor, "cursor", "", "cursor to resume from")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cursor, err := globalApp.Replay(ctx, args[0], replayCursor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "partition %s will resume from %q\n", args[0], cursor)
	return nil
}
