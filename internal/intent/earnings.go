package intent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

// Earnings is a symbol → next earnings date calendar
// A nil *Earnings is an empty calendar.
type Earnings struct {
	dates map[string]time.Time
}

// NewEarnings builds a calendar from symbol → YYYY-MM-DD pairs
func NewEarnings(raw map[string]string) (*Earnings, error) {
	e := &Earnings{dates: make(map[string]time.Time, len(raw))}
	for sym, d := range raw {
		t, err := time.Parse(contracts.DateLayout, strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("earnings date for %s: %w", sym, err)
		}
		e.dates[strings.ToUpper(strings.TrimSpace(sym))] = t
	}
	return e, nil
}

// LoadEarnings reads a YAML (symbol: date) or CSV (symbol,date) calendar
// An empty path yields an empty calendar.
func LoadEarnings(path string) (*Earnings, error) {
	if path == "" {
		return &Earnings{dates: map[string]time.Time{}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Configf("load earnings", "earnings file not found: %s", path)
		}
		return nil, apperr.Configuration("load earnings", err)
	}
	defer f.Close()

	var raw map[string]string
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		raw, err = readEarningsCSV(f)
	} else {
		err = yaml.NewDecoder(f).Decode(&raw)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return nil, apperr.Configuration("load earnings", fmt.Errorf("parse %s: %w", path, err))
	}

	e, err := NewEarnings(raw)
	if err != nil {
		return nil, apperr.Configuration("load earnings", err)
	}
	return e, nil
}

func readEarningsCSV(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d: want symbol,date", i+1)
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "symbol") {
			continue
		}
		out[row[0]] = row[1]
	}
	return out, nil
}

// Len returns the number of symbols on the calendar
func (e *Earnings) Len() int {
	if e == nil {
		return 0
	}
	return len(e.dates)
}

// Symbols returns the calendar's symbols, sorted
func (e *Earnings) Symbols() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.dates))
	for s := range e.dates {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Date returns the next earnings date for symbol
func (e *Earnings) Date(symbol string) (time.Time, bool) {
	if e == nil {
		return time.Time{}, false
	}
	t, ok := e.dates[strings.ToUpper(symbol)]
	return t, ok
}

// DaysUntil returns calendar days from asOf to the symbol's earnings date
func (e *Earnings) DaysUntil(symbol string, asOf time.Time) (int, bool) {
	t, ok := e.Date(symbol)
	if !ok {
		return 0, false
	}
	from := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(from).Hours() / 24), true
}

// Within reports whether earnings fall in [asOf, asOf+days]
func (e *Earnings) Within(symbol string, asOf time.Time, days int) bool {
	n, ok := e.DaysUntil(symbol, asOf)
	return ok && n >= 0 && n <= days
}
