package scan

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var csvHeader = []string{
	"symbol", "date", "score", "reason",
	"close", "sma50", "rsi14", "atr14", "atr_ratio", "dollar_volume",
	"pullback", "trend", "volume_uplift",
	"pullback_pct", "volume_pct", "trend_pct", "rsi_pct",
}

func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// WriteCSV writes one row per scanned symbol, including dropped ones
func WriteCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range res.Results {
		score := ""
		if r.Score != nil {
			score = ftoa(*r.Score, 2)
		}
		row := []string{
			r.Symbol, r.Date, score, string(r.Reason),
			ftoa(r.Indicators.Close, 2), ftoa(r.Indicators.SMA50, 2), ftoa(r.Indicators.RSI14, 1),
			ftoa(r.Indicators.ATR14, 4), ftoa(r.Raw.ATRRatio, 4), ftoa(r.Indicators.DollarVolume, 0),
			ftoa(r.Raw.Pullback, 2), ftoa(r.Raw.Trend, 2), ftoa(r.Raw.VolumeUplift, 4),
			ftoa(r.Components.Pullback, 1), ftoa(r.Components.Volume, 1),
			ftoa(r.Components.Trend, 1), ftoa(r.Components.RSI, 1),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	for _, e := range res.Errors {
		row := make([]string, len(csvHeader))
		row[0], row[1], row[3] = e.Symbol, res.Session, string(e.Reason)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the scan results to path, creating parent directories
func SaveCSV(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scan output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create scan csv: %w", err)
	}
	if err := WriteCSV(f, res); err != nil {
		f.Close()
		return fmt.Errorf("write scan csv: %w", err)
	}
	return f.Close()
}
