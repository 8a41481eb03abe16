// Package exchange
package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/candle"
	"github.com/wisarmy/exbot/internal/logger"
)

// ErrTransport marks exchange connectivity failures after retries are
// exhausted. The caller skips the tick and tries again on the next one.
var ErrTransport = errors.New("exchange transport error")

// Side is an order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// HoldSide is the directional exposure of an open position.
type HoldSide string

const (
	HoldLong  HoldSide = "long"
	HoldShort HoldSide = "short"
)

// Hold maps an order side to the position it builds: buys hold long.
func (s Side) Hold() HoldSide {
	if s == SideBuy {
		return HoldLong
	}
	return HoldShort
}

// CloseSide is the order side that reduces the given holding.
func (h HoldSide) CloseSide() Side {
	if h == HoldLong {
		return SideSell
	}
	return SideBuy
}

func (h HoldSide) Opposite() HoldSide {
	if h == HoldLong {
		return HoldShort
	}
	return HoldLong
}

// PositionSide is one leg of a hedge-mode position.
type PositionSide struct {
	Quantity      float64 `json:"qty"`
	EntryPrice    float64 `json:"entry_price"`
	RealisedPnl   float64 `json:"realised"`
	UnrealisedPnl float64 `json:"upnl"`
}

// Position is the hedge-mode pair of legs for one symbol. Both legs are
// tracked independently; at most one has non-zero quantity per side.
type Position struct {
	Symbol string       `json:"symbol"`
	Long   PositionSide `json:"long"`
	Short  PositionSide `json:"short"`
}

func (p Position) Leg(h HoldSide) PositionSide {
	if h == HoldLong {
		return p.Long
	}
	return p.Short
}

// TriggerKind selects the protective trigger order type.
type TriggerKind string

const (
	TriggerLoss   TriggerKind = "loss"
	TriggerProfit TriggerKind = "profit"
)

// Exchange is the gateway interface for all supported exchanges.
type Exchange interface {
	Name() string

	// FetchPosition returns both hedge-mode legs for the symbol. A flat
	// symbol yields zero-quantity legs, not an error.
	FetchPosition(ctx context.Context, symbol string) (Position, error)

	// ClosePosition reduces the holding opposite to side by amount with a
	// market order (side buy closes the short leg).
	ClosePosition(ctx context.Context, symbol string, side Side, amount float64) error

	// CreateMarketOrder opens amount on side; referencePrice is the signal
	// price, used for logging and order sizing on quote-denominated venues.
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount, referencePrice float64) error

	// PlaceProtectiveTrigger installs an exchange-side conditional close of
	// amount at triggerPrice for the holdSide leg. Best effort: failures
	// are logged by the caller and do not abort the sequence.
	PlaceProtectiveTrigger(ctx context.Context, symbol string, kind TriggerKind, triggerPrice float64, holdSide HoldSide, amount float64) error

	// CancelAllOrders removes every pending order for the symbol. Best effort.
	CancelAllOrders(ctx context.Context, symbol string) error

	FetchCandles(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error)

	// FetchBalance returns the futures equity for the quote currency.
	FetchBalance(ctx context.Context, quote string) (float64, error)
}

// retry wraps a function with bounded retry for transient errors: fixed
// delay, no exponential growth, surface the last error after attempts.
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.Module("exchange").Warn("retry attempt failed",
			zap.Int("attempt", i), zap.Int("attempts", attempts), zap.Error(err))
		if i < attempts {
			time.Sleep(delay)
		}
	}
	return err
}
