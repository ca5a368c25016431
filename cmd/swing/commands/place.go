package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
)

// placeCmd represents the place command
var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Submit a run's intents to the paper account",
	Long: `Places every intent of a run exactly once. Re-running the same run
never duplicates an order: each intent is looked up by its client order id
before it is submitted.

With --dry-run nothing is sent to the broker, and no credentials are needed.

Example:
  go run ./cmd/swing place --dry-run
  go run ./cmd/swing place --run 2025-03-14_scan`,
	RunE: runPlace,
}

var (
	placeDryRun bool
	placeRunID  string
)

func init() {
	rootCmd.AddCommand(placeCmd)

	placeCmd.Flags().BoolVar(&placeDryRun, "dry-run", false, "report what would be placed without calling the broker")
	placeCmd.Flags().StringVar(&placeRunID, "run", "", "run id (default: latest run)")
}

func runPlace(cmd *cobra.Command, args []string) error {
	return runPipeline(cmd.Context(), placeDryRun, func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		summary, err := o.Place(ctx, placeRunID, placeDryRun)
		if summary != nil {
			printPlacement(cmd.OutOrStdout(), summary)
		}
		if err != nil {
			return fmt.Errorf("place: %w", err)
		}
		return nil
	})
}

func printPlacement(w io.Writer, s *contracts.PlacementSummary) {
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	PrintHeader(w, "Place",
		[2]string{"Run", s.RunID},
		[2]string{"Strategy", string(s.Strategy)},
		[2]string{"Mode", mode},
	)

	if len(s.Placed) > 0 {
		widths := []int{8, 6, 28, 26, 5}
		PrintTableHeader(w, []string{"Symbol", "Qty", "Client ID", "Broker ID", "OCO"}, widths)
		for _, p := range s.Placed {
			oco := "-"
			if p.PendingOCO {
				oco = "wait"
			}
			PrintTableRow(w, []string{p.Symbol, strconv.Itoa(p.Qty), p.ClientOrderID, p.BrokerOrderID, oco}, widths)
		}
		PrintSeparator(w)
	}
	for _, sk := range s.Skipped {
		PrintInfo(w, fmt.Sprintf("%s skipped: %s", sk.Symbol, sk.Reason))
	}
	for _, e := range s.Errors {
		PrintError(w, fmt.Sprintf("%s [%s]: %s", e.Symbol, e.Kind, e.Error))
	}
	PrintSuccess(w, fmt.Sprintf("placed=%d skipped=%d errors=%d", len(s.Placed), len(s.Skipped), len(s.Errors)))
}
