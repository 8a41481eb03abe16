// Package indicator
package indicator

import "math"

// EMA calculates the exponential moving average. The first period-1 values
// are NaN; the EMA is seeded with the simple average of the first period
// values, then smoothed with k = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	ema := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return ema
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema[period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema[i] = values[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// MACD calculates the MACD line, signal line and histogram for the given
// close prices. All three slices have the same length as the input; leading
// values are NaN until slow+signal-1 samples are available. Values are
// rounded to 6 decimals.
func MACD(closes []float64, fast, slow, signal int) (macdLine, signalLine, histogram []float64) {
	n := len(closes)
	macdLine = nanSlice(n)
	signalLine = nanSlice(n)
	histogram = nanSlice(n)
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow {
		return
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := slow - 1; i < n; i++ {
		macdLine[i] = round6(emaFast[i] - emaSlow[i])
	}

	// Signal line is the EMA of the valid part of the MACD line.
	valid := macdLine[slow-1:]
	signalValid := EMA(valid, signal)
	for i, v := range signalValid {
		if !math.IsNaN(v) {
			signalLine[slow-1+i] = round6(v)
		}
	}

	for i := 0; i < n; i++ {
		if !math.IsNaN(macdLine[i]) && !math.IsNaN(signalLine[i]) {
			histogram[i] = round6(macdLine[i] - signalLine[i])
		}
	}
	return
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
