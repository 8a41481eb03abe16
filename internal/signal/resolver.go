package signal

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned when the series is too short to resolve
// an authoritative row. The caller skips the tick.
var ErrInsufficientData = errors.New("signal series has fewer than 2 rows")

// defaultThreshold derives the boundary tolerance from the timeframe.
func defaultThreshold(timeframe time.Duration) time.Duration {
	switch timeframe {
	case time.Minute:
		return 10 * time.Second
	case 5 * time.Minute:
		return 15 * time.Second
	case 15 * time.Minute:
		return 20 * time.Second
	default:
		return 30 * time.Second
	}
}

// Resolve picks the most recent decided row of the series. The last row is
// still forming unless the next candle boundary is within threshold of the
// reference time, in which case it is considered settled enough to act on;
// otherwise the second-to-last row is authoritative.
//
// A zero threshold derives one from the series timeframe. A zero ref means
// the current wall clock.
func Resolve(series Series, threshold time.Duration, ref time.Time) (Row, error) {
	if len(series) < 2 {
		return Row{}, ErrInsufficientData
	}
	if ref.IsZero() {
		ref = time.Now()
	}

	// Timeframe is the minimum delta between consecutive timestamps, so a
	// gap in the series does not inflate it.
	timeframe := series[1].Timestamp.Sub(series[0].Timestamp)
	for i := 2; i < len(series); i++ {
		if d := series[i].Timestamp.Sub(series[i-1].Timestamp); d < timeframe {
			timeframe = d
		}
	}
	if threshold <= 0 {
		threshold = defaultThreshold(timeframe)
	}

	elapsed := ref.Sub(series.Last().Timestamp)
	if timeframe-elapsed <= threshold {
		return series[len(series)-1], nil
	}
	return series[len(series)-2], nil
}
