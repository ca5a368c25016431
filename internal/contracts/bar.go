package contracts

import "time"

// DateLayout is the session date format used in bars, run ids and state keys
const DateLayout = "2006-01-02"

// Bar is one trading session for one symbol
// ⭐ SSOT: the unit the scoring engine consumes, oldest first
type Bar struct {
	Date   string  `json:"date"` // YYYY-MM-DD, exchange-local session date
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time parses the session date
func (b Bar) Time() (time.Time, error) {
	return time.Parse(DateLayout, b.Date)
}

// DollarVolume returns close × volume
func (b Bar) DollarVolume() float64 {
	return b.Close * b.Volume
}

// Closes extracts closing prices
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// LastDate returns the date of the newest bar, or ""
func LastDate(bars []Bar) string {
	if len(bars) == 0 {
		return ""
	}
	return bars[len(bars)-1].Date
}
