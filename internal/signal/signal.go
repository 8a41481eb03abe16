// Package signal holds the indicator-derived trading signal series and the
// resolver that picks the authoritative row for the current tick.
package signal

import (
	"time"

	"github.com/wisarmy/exbot/internal/exchange"
)

// Row is one timestamped point of the signal series. Buy and Sell are
// mutually exclusive crossover signals; TakeProfit and StopLoss are
// directional risk-exit tags (the side whose holding should be reduced).
type Row struct {
	Timestamp time.Time
	Close     float64

	Buy  bool
	Sell bool

	TakeProfit exchange.Side
	StopLoss   exchange.Side

	Dif  float64
	Dea  float64
	Hist float64
}

// Side returns the directional entry signal of the row, or "" when the row
// carries no entry signal.
func (r Row) Side() exchange.Side {
	switch {
	case r.Buy:
		return exchange.SideBuy
	case r.Sell:
		return exchange.SideSell
	default:
		return ""
	}
}

// Series is a time-ascending signal series with unique timestamps.
type Series []Row

func (s Series) Last() Row {
	return s[len(s)-1]
}
