package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/pipeline"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Score the universe and build order intents",
	Long: `Scores every symbol in the universe as of the last complete session,
applies the gates and the intent builder, and persists the run's intents
and manifest.

A scan started while another is active supersedes it.

Example:
  go run ./cmd/swing scan
  go run ./cmd/swing scan --as-of 2025-03-14
  go run ./cmd/swing scan --set paper_trading.entry.min_score=55`,
	RunE: runScan,
}

var scanAsOf string

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanAsOf, "as-of", "", "session date YYYY-MM-DD (default: last complete session)")
}

func runScan(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		res, err := o.Scan(ctx, scanAsOf)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printScan(cmd.OutOrStdout(), res)
		return nil
	})
}

func printScan(w io.Writer, res *pipeline.ScanResult) {
	PrintHeader(w, "Scan", [2]string{"Run", res.RunID}, [2]string{"Session", res.AsOf})

	if res.Regime != nil {
		PrintKeyValue(w, "Regime", fmt.Sprintf("%s / %s", res.Regime.Trend, res.Regime.Volatility), 12)
	}
	if res.Blocked != "" {
		PrintWarning(w, "trading blocked by regime: "+res.Blocked)
	}
	if res.Scan != nil {
		PrintKeyValue(w, "Scanned", strconv.Itoa(res.Scan.Scanned), 12)
		PrintKeyValue(w, "Candidates", strconv.Itoa(len(res.Scan.Candidates)), 12)
		PrintKeyValue(w, "Errors", strconv.Itoa(len(res.Scan.Errors)), 12)
	}
	if res.Manifest != nil {
		PrintCounts(w, "Rejections", res.Manifest.Rejections)
	}
	if res.Build != nil {
		PrintCounts(w, "Filtered", res.Build.Filtered)
		PrintCounts(w, "Skipped", res.Build.Skipped)
	}
	PrintSeparator(w)

	if len(res.Intents) == 0 {
		PrintInfo(w, "no intents")
		return
	}

	widths := []int{8, 6, 6, 10, 10, 10, 18}
	PrintTableHeader(w, []string{"Symbol", "Qty", "Score", "Entry", "Stop", "Target", "Reason"}, widths)
	for _, in := range res.Intents {
		PrintTableRow(w, []string{
			in.Symbol,
			strconv.Itoa(in.Qty),
			fmt.Sprintf("%.1f", in.Meta.Score),
			fmt.Sprintf("%.2f", in.EntryPrice()),
			fmt.Sprintf("%.2f", in.Bracket.StopPrice),
			fmt.Sprintf("%.2f", in.Bracket.TargetPrice),
			in.Meta.Reason,
		}, widths)
	}
	if res.Build != nil {
		PrintSeparator(w)
		PrintKeyValue(w, "Notional", money(res.Build.TotalNotional), 12)
	}
	PrintSuccess(w, fmt.Sprintf("%d intents saved for %s", len(res.Intents), res.RunID))
}
