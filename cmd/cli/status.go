package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/wire"
)

var (
	outputJSON  bool
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the most recent review runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tools, cleanup, err := wire.InitializeTools(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize tools: %w", err)
		}
		defer cleanup()

		runs, err := tools.Store.ListRuns(ctx, statusLimit)
		if err != nil {
			return fmt.Errorf("failed to retrieve runs: %w", err)
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(runs)
		}

		if len(runs) == 0 {
			dimColor.Println("No review runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tPULL REQUEST\tSHA\tSTATUS\tCREATED\tDETAIL")
		for _, r := range runs {
			detail := r.Summary
			if r.ErrorMessage != "" {
				detail = r.ErrorMessage
			}
			fmt.Fprintf(w, "%d\t%s#%d\t%s\t%s\t%s\t%s\n",
				r.ID,
				r.RepoFullName, r.Number,
				shortSHA(r.HeadSHA),
				r.Status,
				humanize.Time(r.CreatedAt),
				ellipsis(detail, 60),
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output runs as JSON")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func ellipsis(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
