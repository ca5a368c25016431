package commands

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// every command prints through these so output stays uniform
// ═══════════════════════════════════════════════════════════

const (
	doubleRule = "═══════════════════════════════════════════════════════════"
	singleRule = "───────────────────────────────────────────────────────────"
)

// PrintHeader prints a titled block header
func PrintHeader(w io.Writer, title string, fields ...[2]string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, doubleRule)
	fmt.Fprintf(w, "  %s\n", title)
	if len(fields) > 0 {
		fmt.Fprintln(w, singleRule)
		for _, f := range fields {
			fmt.Fprintf(w, "  %-10s: %s\n", f[0], f[1])
		}
	}
	fmt.Fprintln(w, singleRule)
}

// PrintSeparator prints a visual separator
func PrintSeparator(w io.Writer) {
	fmt.Fprintln(w, singleRule)
}

// PrintSuccess prints a success message
func PrintSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "✅ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "⚠️  %s\n", message)
}

// PrintError prints an error message
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "❌ %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(w io.Writer, message string) {
	fmt.Fprintf(w, "ℹ️  %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(w io.Writer, columns []string, widths []int) {
	PrintTableRow(w, columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Fprintln(w, strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(w io.Writer, values []string, widths []int) {
	for i, val := range values {
		if i < len(values)-1 {
			fmt.Fprintf(w, "%-*s  ", widths[i], val)
		} else {
			fmt.Fprintf(w, "%-*s", widths[i], val)
		}
	}
	fmt.Fprintln(w)
}

// PrintCounts prints a reason -> count map, largest first
func PrintCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "   %-26s : %d\n", k, counts[k])
	}
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(w io.Writer, key string, value string, keyWidth int) {
	fmt.Fprintf(w, "   %-*s : %s\n", keyWidth, key, value)
}

// Confirm asks a yes/no question and reports whether the answer was yes
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}
