package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crajarshi/SwingTrading/internal/marketdata"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the bar cache",
	Long: `Manages the on-disk daily bar cache.

Subcommands:
  stats   - file, bar and size totals
  clear   - remove one symbol, or everything

Example:
  go run ./cmd/swing cache stats
  go run ./cmd/swing cache clear AAPL
  go run ./cmd/swing cache clear`,
}

var (
	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show bar cache totals",
		RunE:  runCacheStats,
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear [symbol]",
		Short: "Remove cached bars",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheClear,
	}
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache(cmd *cobra.Command) (*marketdata.BarCache, func() error, error) {
	d, err := loadDeps(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	cache, err := d.barCache()
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	return cache, d.Close, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cache, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := cache.Stats()
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}
	w := cmd.OutOrStdout()
	PrintHeader(w, "Bar Cache")
	PrintKeyValue(w, "Files", fmt.Sprintf("%d", stats.Files), 6)
	PrintKeyValue(w, "Bars", fmt.Sprintf("%d", stats.Bars), 6)
	PrintKeyValue(w, "Size", fmt.Sprintf("%.1f KB", float64(stats.SizeBytes)/1024), 6)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cache, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	symbol := ""
	if len(args) == 1 {
		symbol = strings.ToUpper(args[0])
	}
	n, err := cache.Clear(symbol)
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	target := "all symbols"
	if symbol != "" {
		target = symbol
	}
	PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("removed %d files (%s)", n, target))
	return nil
}
