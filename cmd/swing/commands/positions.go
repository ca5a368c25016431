package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
)

// positionsCmd represents the positions command
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions",
	RunE:  runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		positions, err := o.Positions(ctx)
		if err != nil {
			return fmt.Errorf("positions: %w", err)
		}
		printPositions(cmd.OutOrStdout(), positions)
		return nil
	})
}

func printPositions(w io.Writer, positions []contracts.Position) {
	PrintHeader(w, "Positions")
	if len(positions) == 0 {
		PrintInfo(w, "no open positions")
		return
	}

	sorted := append([]contracts.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	widths := []int{8, 6, 10, 10, 12, 12}
	PrintTableHeader(w, []string{"Symbol", "Qty", "Avg", "Last", "Value", "Unrealized"}, widths)
	var value, upl float64
	for _, p := range sorted {
		PrintTableRow(w, []string{
			p.Symbol,
			strconv.Itoa(p.Qty),
			fmt.Sprintf("%.2f", p.AvgEntryPrice),
			fmt.Sprintf("%.2f", p.CurrentPrice),
			money(p.MarketValue),
			money(p.UnrealizedPL),
		}, widths)
		value += p.MarketValue
		upl += p.UnrealizedPL
	}
	PrintSeparator(w)
	PrintKeyValue(w, "Total value", money(value), 12)
	PrintKeyValue(w, "Unrealized", money(upl), 12)
}
