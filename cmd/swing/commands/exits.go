package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/pipeline"
)

// exitsCmd represents the exits command
var exitsCmd = &cobra.Command{
	Use:   "exits",
	Short: "Close positions past the holding limit or ahead of earnings",
	Long: `Runs the scheduled exit passes once: positions held longer than
paper_trading.exits.max_hold_days are closed, then positions whose earnings
date falls within paper_trading.exits.earnings_pre_exit_days.

Example:
  go run ./cmd/swing exits`,
	RunE: runExits,
}

func init() {
	rootCmd.AddCommand(exitsCmd)
}

func runExits(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		res, err := o.Exits(ctx)
		if res != nil {
			if res.Age != nil {
				printExitSummary(cmd.OutOrStdout(), "Time Exits", res.Age)
			}
			if res.Earnings != nil {
				printExitSummary(cmd.OutOrStdout(), "Earnings Exits", res.Earnings)
			}
		}
		if err != nil {
			return fmt.Errorf("exits: %w", err)
		}
		return res.Err()
	})
}
