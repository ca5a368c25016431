package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/broker/alpaca"
	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/execution"
	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream trade updates into the order log",
	Long: `Connects to the broker's trade_updates stream and appends every fill
and partial fill to the order log. Reconnects with backoff until interrupted.

Example:
  go run ./cmd/swing watch
  go run ./cmd/swing watch --all-events`,
	RunE: runWatch,
}

var watchAllEvents bool

// watchRunID tags stream events in the order log
const watchRunID = "stream"

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchAllEvents, "all-events", false, "log every trade event, not only fills")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := loadDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.cfg.RequireBroker(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	w := cmd.OutOrStdout()
	PrintInfo(w, "watching trade updates, Ctrl+C to stop")

	handle := tradeRecorder(ctx, d.store, w, watchAllEvents, time.Now, d.log)
	return alpaca.NewStream(d.cfg.Alpaca, d.log).Run(ctx, handle)
}

// tradeRecorder appends fill events to the order log and echoes them to w
func tradeRecorder(ctx context.Context, store state.Store, w io.Writer, all bool, now func() time.Time, log *logger.Logger) func(alpaca.TradeUpdate) {
	return func(u alpaca.TradeUpdate) {
		if !all && u.Event != "fill" && u.Event != "partial_fill" {
			log.WithFields(map[string]interface{}{
				"event":  u.Event,
				"symbol": u.Order.Symbol,
			}).Debug("Trade update ignored")
			return
		}

		e := execution.NewLogEntry(watchRunID, contracts.ActionTradeEvent, u.Order.Symbol, now())
		e.ClientOrderID = u.Order.ClientOrderID
		e.BrokerOrderID = u.Order.ID
		e.Qty = u.Qty
		e.Detail = map[string]interface{}{
			"event":      u.Event,
			"price":      u.Price,
			"filled_qty": u.Order.FilledQty,
			"status":     u.Order.Status,
			"timestamp":  u.Timestamp,
		}
		if err := store.AppendOrderLog(ctx, e); err != nil {
			log.WithError(err).WithField("symbol", u.Order.Symbol).Error("Failed to append trade update")
			return
		}
		fmt.Fprintf(w, "[%s] %-12s %-6s qty=%d price=%.2f %s\n",
			u.Timestamp.Format("15:04:05"), u.Event, u.Order.Symbol, u.Qty, u.Price, u.Order.ClientOrderID)
	}
}
