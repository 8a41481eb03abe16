package strategy

import (
	"errors"
	"math"

	"github.com/wisarmy/exbot/internal/candle"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/indicator"
	"github.com/wisarmy/exbot/internal/signal"
)

const (
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalPeriod = 9
)

var ErrNotEnoughCandles = errors.New("not enough candles for macd warm-up")

// MACD emits buy on a golden cross (dif crossing above dea) and sell on a
// dead cross. Risk-exit tags: a shrinking histogram marks a take-profit
// for the profiting leg, a dif zero-line crossing marks a stop-loss for
// the leg the momentum turned against.
type MACD struct {
	opts Options
}

func NewMACD(opts Options) *MACD {
	return &MACD{opts: opts}
}

func (*MACD) Name() string { return "macd" }

func (m *MACD) Populate(candles []candle.Candle) (signal.Series, error) {
	if len(candles) < macdSlowPeriod+macdSignalPeriod {
		return nil, ErrNotEnoughCandles
	}

	closes := candle.Closes(candles)
	dif, dea, hist := indicator.MACD(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)

	series := make(signal.Series, len(candles))
	for i, c := range candles {
		row := signal.Row{
			Timestamp: c.Timestamp,
			Close:     c.Close,
			Dif:       dif[i],
			Dea:       dea[i],
			Hist:      hist[i],
		}
		if i > 0 {
			// NaN warm-up values fail every comparison, so no signals
			// fire before the indicator has settled.
			row.Buy = dif[i] > dea[i] && dif[i-1] < dea[i-1]
			row.Sell = dif[i] < dea[i] && dif[i-1] > dea[i-1]
			if !row.Buy && !row.Sell {
				row.TakeProfit = m.takeProfitTag(hist[i-1], hist[i])
				row.StopLoss = m.stopLossTag(dif[i-1], dif[i])
			}
		}
		series[i] = row
	}
	return series, nil
}

// takeProfitTag marks momentum fading: a shrinking positive histogram
// tags the long leg, a shrinking negative one the short leg.
func (m *MACD) takeProfitTag(prev, cur float64) exchange.Side {
	if !m.opts.TakeProfit || math.IsNaN(prev) || math.IsNaN(cur) {
		return ""
	}
	if cur > 0 && cur < prev {
		return exchange.SideBuy
	}
	if cur < 0 && cur > prev {
		return exchange.SideSell
	}
	return ""
}

// stopLossTag marks a dif zero-line crossing against the held direction.
func (m *MACD) stopLossTag(prev, cur float64) exchange.Side {
	if !m.opts.StopLoss || math.IsNaN(prev) || math.IsNaN(cur) {
		return ""
	}
	if prev >= 0 && cur < 0 {
		return exchange.SideBuy
	}
	if prev <= 0 && cur > 0 {
		return exchange.SideSell
	}
	return ""
}
