package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	overrides  []string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "swing",
	Short: "Swing-trading signal-to-order pipeline",
	Long: `Swing Trading CLI

Scores a stock universe after the close, sizes bracket orders, places them
for the next opening auction on a paper account, and reconciles protective
exits once entries fill.

Usage:
  go run ./cmd/swing [command]

Examples:
  go run ./cmd/swing scan
  go run ./cmd/swing place --dry-run
  go run ./cmd/swing reconcile
  go run ./cmd/swing report --date 2025-03-14
  go run ./cmd/swing serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config/swing.yaml", "strategy config file")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "override a strategy setting (dotted.key=value), repeatable")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
