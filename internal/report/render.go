package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

func money(v float64) string {
	return printer.Sprintf("$%.2f", v)
}

func signedMoney(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("+$%.2f", v)
}

func writeFiles(rep *Report, loc *time.Location, generatedAt time.Time) error {
	if err := os.MkdirAll(rep.Paths.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	md, err := os.Create(rep.Paths.Markdown)
	if err != nil {
		return fmt.Errorf("create markdown report: %w", err)
	}
	if err := RenderMarkdown(md, rep, loc, generatedAt); err != nil {
		md.Close()
		return err
	}
	if err := md.Close(); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}

	trades, err := os.Create(rep.Paths.Trades)
	if err != nil {
		return fmt.Errorf("create trades csv: %w", err)
	}
	if err := WriteTradesCSV(trades, rep.Day); err != nil {
		trades.Close()
		return err
	}
	if err := trades.Close(); err != nil {
		return fmt.Errorf("write trades csv: %w", err)
	}

	data, err := json.MarshalIndent(struct {
		Metrics      Metrics       `json:"metrics"`
		Contributors []Contributor `json:"top_contributors"`
	}{rep.Metrics, rep.Contributors}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(rep.Paths.Summary, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// RenderMarkdown writes the human-readable report
func RenderMarkdown(w io.Writer, rep *Report, loc *time.Location, generatedAt time.Time) error {
	m := rep.Metrics
	var b strings.Builder

	fmt.Fprintf(&b, "# End-of-Day Trading Report\n**Date:** %s\n\n", m.Date)

	b.WriteString("## Equity & P/L Summary\n\n")
	fmt.Fprintf(&b, "- **Starting Equity:** %s (%s)\n", money(m.StartingEquity), m.StartingSource)
	fmt.Fprintf(&b, "- **Ending Equity:** %s\n", money(m.EndingEquity))
	fmt.Fprintf(&b, "- **Daily P/L:** %s (%+.2f%%)\n", signedMoney(m.DailyPL), m.DailyPLPct)
	fmt.Fprintf(&b, "- **Realized P/L:** %s\n", signedMoney(m.RealizedPL))
	fmt.Fprintf(&b, "- **Unrealized P/L:** %s\n", signedMoney(m.UnrealizedPL))
	fmt.Fprintf(&b, "- **Unrealized Change:** %s\n\n", signedMoney(m.UnrealizedChange))

	b.WriteString("## Trading Activity\n\n")
	fmt.Fprintf(&b, "- **New Entries:** %d\n", m.Entries)
	fmt.Fprintf(&b, "- **Exits:** %d\n", m.Exits)
	fmt.Fprintf(&b, "- **Open Positions:** %d\n", m.PositionCount)
	fmt.Fprintf(&b, "- **Portfolio Exposure:** %.1f%%\n", m.ExposurePct)
	fmt.Fprintf(&b, "- **Turnover:** %.2fx\n\n", m.Turnover)

	if len(rep.Day.Positions) > 0 {
		b.WriteString("## Open Positions\n\n")
		b.WriteString("| Symbol | Qty | Avg Entry | Current | Unrealized P/L | Unrealized % |\n")
		b.WriteString("|--------|-----|-----------|---------|----------------|--------------|\n")
		for _, p := range rep.Day.Positions {
			pct := 0.0
			if basis := p.AvgEntryPrice * float64(abs(p.Qty)); basis != 0 {
				pct = p.UnrealizedPL / basis * 100
			}
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %+.2f%% |\n",
				p.Symbol, p.Qty, money(p.AvgEntryPrice), money(p.CurrentPrice), signedMoney(p.UnrealizedPL), pct)
		}
		b.WriteString("\n")
	}

	if len(rep.Day.Fills) > 0 {
		b.WriteString("## Today's Trades\n\n")
		b.WriteString("| Time | Symbol | Side | Qty | Price | Realized P/L |\n")
		b.WriteString("|------|--------|------|-----|-------|--------------|\n")
		for _, f := range rep.Day.Fills {
			pl := "-"
			if f.EntryPrice > 0 {
				pl = signedMoney(f.RealizedPL)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
				f.TransactionTime.In(loc).Format("15:04:05"), f.Symbol, strings.ToUpper(string(f.Side)), f.Qty, money(f.Price), pl)
		}
		b.WriteString("\n")
	}

	if len(rep.Contributors) > 0 {
		fmt.Fprintf(&b, "## Top %d Contributors\n\n", len(rep.Contributors))
		b.WriteString("| Symbol | P/L | Type |\n")
		b.WriteString("|--------|-----|------|\n")
		for _, c := range rep.Contributors {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Symbol, signedMoney(c.PL), c.Type)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n*Report generated at %s*\n\n*Paper trading account*\n", generatedAt.In(loc).Format("2006-01-02 15:04:05 MST"))

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	return nil
}

// WriteTradesCSV writes one row per fill
func WriteTradesCSV(w io.Writer, day Day) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"date", "symbol", "side", "qty", "price", "entry_price", "realized_pl", "order_id", "timestamp"}}
	for _, f := range day.Fills {
		rows = append(rows, []string{
			day.Date,
			f.Symbol,
			string(f.Side),
			strconv.Itoa(f.Qty),
			strconv.FormatFloat(f.Price, 'f', 2, 64),
			strconv.FormatFloat(f.EntryPrice, 'f', 2, 64),
			strconv.FormatFloat(f.RealizedPL, 'f', 2, 64),
			f.OrderID,
			f.TransactionTime.UTC().Format(time.RFC3339),
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write trades csv: %w", err)
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
