package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/positions"
)

// closeAllCmd represents the close-all command
var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Cancel every open order and flatten every position",
	Long: `Emergency exit: cancels all open orders, then submits a market order
closing each position. Failures on one symbol do not stop the others.

Example:
  go run ./cmd/swing close-all
  go run ./cmd/swing close-all --yes --reason "halt"`,
	RunE: runCloseAll,
}

var (
	closeAllYes    bool
	closeAllReason string
)

func init() {
	rootCmd.AddCommand(closeAllCmd)

	closeAllCmd.Flags().BoolVar(&closeAllYes, "yes", false, "skip the confirmation prompt")
	closeAllCmd.Flags().StringVar(&closeAllReason, "reason", "manual", "reason recorded in the order log")
}

func runCloseAll(cmd *cobra.Command, args []string) error {
	if !closeAllYes && !Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Close ALL positions and cancel ALL orders?") {
		PrintInfo(cmd.OutOrStdout(), "aborted")
		return nil
	}
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		s, err := o.CloseAll(ctx, closeAllReason)
		if s != nil {
			printExitSummary(cmd.OutOrStdout(), "Close All", s)
		}
		if err != nil {
			return fmt.Errorf("close all: %w", err)
		}
		return s.Err()
	})
}

func printExitSummary(w io.Writer, title string, s *positions.Summary) {
	PrintHeader(w, title, [2]string{"As of", s.AsOf}, [2]string{"Kind", s.Kind})
	if s.OrdersCancelled > 0 {
		PrintInfo(w, fmt.Sprintf("cancelled %d open orders", s.OrdersCancelled))
	}
	for _, c := range s.Closed {
		PrintSuccess(w, fmt.Sprintf("%s closed qty=%d (%s)", c.Symbol, c.Qty, c.ClientOrderID))
	}
	for _, sk := range s.Skipped {
		PrintInfo(w, fmt.Sprintf("%s kept: %s", sk.Symbol, sk.Reason))
	}
	for _, e := range s.Errors {
		PrintError(w, fmt.Sprintf("%s [%s]: %s", e.Symbol, e.Kind, e.Error))
	}
	if len(s.Closed) == 0 && len(s.Errors) == 0 {
		PrintInfo(w, "nothing to close")
	}
}
