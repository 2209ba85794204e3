package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Long:  "Embed a free-text query and print the most similar indexed articles.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var (
	searchK    int
	searchJSON bool
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 0, "number of results (0 for the configured default)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, err := globalApp.Query(ctx)
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")
	results, err := svc.Search(ctx, query, searchK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tPUBLISHED\tSOURCE\tTITLE\tURL")
	for _, r := range results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n", r.Score, r.PublishedAt.Format("2006-01-02 15:04"), r.SourceName, r.Title, r.URL)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return nil
}
