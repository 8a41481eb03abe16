// Package strategy turns candle series into signal series.
package strategy

import (
	"fmt"

	"github.com/wisarmy/exbot/internal/candle"
	"github.com/wisarmy/exbot/internal/signal"
)

// Strategy computes entry and risk-exit signals from a candle series.
type Strategy interface {
	Name() string
	Populate(candles []candle.Candle) (signal.Series, error)
}

// Options toggles the signal-tagged risk exits a strategy may emit.
type Options struct {
	TakeProfit bool
	StopLoss   bool
}

type factory func(Options) Strategy

var registry = map[string]factory{
	"macd": func(opts Options) Strategy { return NewMACD(opts) },
}

// New returns the named strategy or an error for unknown names.
func New(name string, opts Options) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(opts), nil
}
