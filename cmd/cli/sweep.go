package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/wire"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark review runs that stopped making progress as failed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		tools, cleanup, err := wire.InitializeTools(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize tools: %w", err)
		}
		defer cleanup()

		n, err := tools.Sweeper.Sweep(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		if n == 0 {
			successColor.Println("No stale runs.")
			return nil
		}
		warnColor.Printf("Marked %d stale run(s) as failed.\n", n)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(sweepCmd)
}
