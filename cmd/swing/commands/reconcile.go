package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Attach OCO exits to filled entries and cancel stale orders",
	Long: `Walks every persisted run: filled opening-auction entries get their
protective OCO pair, partial fills are protected for the filled quantity,
unfilled entries past the stale threshold are cancelled. Runs older than
the retention window are archived afterwards.

Example:
  go run ./cmd/swing reconcile
  go run ./cmd/swing reconcile audit --run 2025-03-14_scan`,
	RunE: runReconcile,
}

var reconcileAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Classify a run's placements without changing anything",
	RunE:  runAudit,
}

var auditRunID string

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.AddCommand(reconcileAuditCmd)

	reconcileAuditCmd.Flags().StringVar(&auditRunID, "run", "", "run id (default: latest run)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		res, err := o.Reconcile(ctx)
		if res != nil {
			printReconcile(cmd.OutOrStdout(), res)
		}
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		return nil
	})
}

func runAudit(cmd *cobra.Command, args []string) error {
	return withPipeline(cmd.Context(), func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		a, err := o.Audit(ctx, auditRunID)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		printAudit(cmd.OutOrStdout(), a)
		return nil
	})
}

func printReconcile(w io.Writer, res *pipeline.ReconcileResult) {
	PrintHeader(w, "Reconcile", [2]string{"As of", res.AsOf.Format("2006-01-02 15:04:05 MST")})

	for _, s := range res.Runs {
		fmt.Fprintf(w, "%s\n", s.RunID)
		PrintKeyValue(w, "OCO placed", fmt.Sprintf("%d", len(s.OCOPlaced)), 14)
		PrintKeyValue(w, "Partial", fmt.Sprintf("%d", len(s.PartialHandled)), 14)
		PrintKeyValue(w, "Cancelled", fmt.Sprintf("%d", len(s.Cancelled)), 14)
		PrintKeyValue(w, "Still pending", fmt.Sprintf("%d", s.StillPending), 14)
		for _, oco := range s.OCOPlaced {
			PrintInfo(w, fmt.Sprintf("%s OCO %s qty=%d stop=%.2f target=%.2f", oco.Symbol, oco.ClientOrderID, oco.Qty, oco.StopPrice, oco.TargetPrice))
		}
		for _, e := range s.Errors {
			PrintError(w, fmt.Sprintf("%s [%s]: %s", e.Symbol, e.Kind, e.Error))
		}
	}
	if len(res.Purged) > 0 {
		PrintInfo(w, fmt.Sprintf("archived %d stale runs", len(res.Purged)))
	}
	PrintSeparator(w)
	PrintSuccess(w, fmt.Sprintf("%d runs reconciled, %d errors", len(res.Runs), len(res.Errors())))
}

func printAudit(w io.Writer, a *contracts.AuditSummary) {
	PrintHeader(w, "Audit", [2]string{"Run", a.RunID})
	PrintKeyValue(w, "Checked", fmt.Sprintf("%d", a.Checked), 10)
	PrintKeyValue(w, "Filled", fmt.Sprintf("%d", a.Filled), 10)
	PrintKeyValue(w, "Partial", fmt.Sprintf("%d", a.Partial), 10)
	PrintKeyValue(w, "Pending", fmt.Sprintf("%d", a.Pending), 10)
	PrintKeyValue(w, "Cancelled", fmt.Sprintf("%d", a.Cancelled), 10)
	PrintKeyValue(w, "OCO needed", fmt.Sprintf("%d", a.OCONeeded), 10)
	PrintKeyValue(w, "OCO placed", fmt.Sprintf("%d", a.OCOPlaced), 10)
	if a.OCONeeded > a.OCOPlaced {
		PrintWarning(w, fmt.Sprintf("%d filled entries lack protective exits; run reconcile", a.OCONeeded-a.OCOPlaced))
	}
}
