package main

import (
	"fmt"
	"os"

	"github.com/crajarshi/SwingTrading/cmd/swing/commands"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

// main is the entry point for the swing CLI
// ⭐ Unified CLI entry point: go run ./cmd/swing [command]
func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperr.ExitCode(err))
	}
}
