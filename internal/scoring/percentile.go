package scoring

import "sort"

// Lookback is the trailing window, in sessions, each feature is ranked against
const Lookback = 252

// Percentiles returns linear-interpolated percentiles of values for each pct in [0,100]
func Percentiles(values []float64, pcts ...float64) []float64 {
	out := make([]float64, len(pcts))
	if len(values) == 0 {
		return out
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)

	for i, p := range pcts {
		switch {
		case p <= 0:
			out[i] = sorted[0]
		case p >= 100:
			out[i] = sorted[n-1]
		default:
			pos := p / 100 * float64(n-1)
			lower := int(pos)
			upper := lower + 1
			if upper > n-1 {
				upper = n - 1
			}
			w := pos - float64(lower)
			out[i] = sorted[lower]*(1-w) + sorted[upper]*w
		}
	}
	return out
}

// Winsorize clips values to their [lower, upper] percentiles
func Winsorize(values []float64, lower, upper float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	cut := Percentiles(values, lower, upper)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = clamp(v, cut[0], cut[1])
	}
	return out
}

// PercentileRank ranks current against a winsorized history using ≤ counting
// history must not contain current's own session.
func PercentileRank(history []float64, current float64) float64 {
	if len(history) == 0 {
		return 50.0
	}
	count := 0
	for _, v := range Winsorize(history, 1, 99) {
		if v <= current {
			count++
		}
	}
	return 100.0 * float64(count) / float64(len(history))
}

// PercentileSeries ranks every point from index lookback onward against its
// preceding lookback points
func PercentileSeries(history []float64, lookback int) []float64 {
	if len(history) < lookback+1 {
		return nil
	}
	out := make([]float64, 0, len(history)-lookback)
	for i := lookback; i < len(history); i++ {
		out = append(out, PercentileRank(history[i-lookback:i], history[i]))
	}
	return out
}

// currentPercentile ranks the newest history point against the Lookback points before it
func currentPercentile(history []float64, current float64) float64 {
	if len(history) <= Lookback {
		return 50.0
	}
	return PercentileRank(history[len(history)-Lookback-1:len(history)-1], current)
}

// smoothedPercentile returns the last EMA(3) of the percentile series,
// falling back to the unsmoothed rank when the series is shorter than 3
func smoothedPercentile(history []float64, current float64) float64 {
	series := PercentileSeries(history, Lookback)
	if len(series) >= 3 {
		ema := EMA(series, 3)
		return ema[len(ema)-1]
	}
	return currentPercentile(history, current)
}
