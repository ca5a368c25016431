package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/report"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the end-of-day report",
	Long: `Collects the account, open positions and the day's fills, computes
daily P/L, exposure and turnover, and writes Markdown, CSV and JSON files
under the reporting output directory. Today's ending equity is saved as the
next session's starting point.

Example:
  go run ./cmd/swing report
  go run ./cmd/swing report --date 2025-03-14`,
	RunE: runReport,
}

var reportDate string

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportDate, "date", "", "session date YYYY-MM-DD (default: last complete session)")
}

func runReport(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		rep, err := o.Report(ctx, reportDate)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	})
}

func printReport(w io.Writer, rep *report.Report) {
	m := rep.Metrics
	PrintHeader(w, "End of Day", [2]string{"Date", m.Date})

	PrintKeyValue(w, "Start equity", fmt.Sprintf("%s (%s)", money(m.StartingEquity), m.StartingSource), 14)
	PrintKeyValue(w, "End equity", money(m.EndingEquity), 14)
	PrintKeyValue(w, "Daily P/L", fmt.Sprintf("%s (%+.2f%%)", money(m.DailyPL), m.DailyPLPct), 14)
	PrintKeyValue(w, "Realized", money(m.RealizedPL), 14)
	PrintKeyValue(w, "Unrealized Δ", money(m.UnrealizedChange), 14)
	PrintKeyValue(w, "Entries/Exits", fmt.Sprintf("%d / %d", m.Entries, m.Exits), 14)
	PrintKeyValue(w, "Exposure", fmt.Sprintf("%.1f%% in %d positions", m.ExposurePct, m.PositionCount), 14)
	PrintKeyValue(w, "Turnover", fmt.Sprintf("%.3f", m.Turnover), 14)

	if len(rep.Contributors) > 0 {
		PrintSeparator(w)
		for i, c := range rep.Contributors {
			fmt.Fprintf(w, "   %d. %-8s %-10s %s\n", i+1, c.Symbol, c.Type, money(c.PL))
		}
	}
	PrintSeparator(w)
	PrintSuccess(w, "report written to "+rep.Paths.Dir)
}
