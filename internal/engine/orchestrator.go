package engine

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/journal"
	"github.com/wisarmy/exbot/internal/metrics"
	"github.com/wisarmy/exbot/internal/signal"
)

// ActionKind enumerates what a directional signal resolves to.
type ActionKind string

const (
	ActionOpen    ActionKind = "open"
	ActionClose   ActionKind = "close"
	ActionReverse ActionKind = "reverse"
	ActionAtMax   ActionKind = "at_max"
)

// EntryPlan is the decision for one directional signal, computed without
// side effects.
type EntryPlan struct {
	Kind        ActionKind
	CloseAmount float64
	OpenAmount  float64
}

// planEntry decides how to act on a directional signal given the current
// hedge-mode position. An opposing leg is always closed fully first; the
// reversal open happens only when enabled.
func planEntry(side exchange.Side, pos exchange.Position, cfg *config.Config) EntryPlan {
	opposing := pos.Leg(side.Hold().Opposite())
	if opposing.Quantity > 0 {
		if cfg.Reversals {
			return EntryPlan{Kind: ActionReverse, CloseAmount: opposing.Quantity, OpenAmount: cfg.Amount}
		}
		return EntryPlan{Kind: ActionClose, CloseAmount: opposing.Quantity}
	}
	if pos.Leg(side.Hold()).Quantity < cfg.AmountMax {
		return EntryPlan{Kind: ActionOpen, OpenAmount: cfg.Amount}
	}
	return EntryPlan{Kind: ActionAtMax}
}

// entryGuard reports whether adding to an existing position at price is
// allowed. With a configured rate, additions require the price to have
// moved adversely by at least rate relative to the existing entry, so the
// bot does not chase the market into a worse average. A zero rate or no
// existing entry always passes.
func entryGuard(hold exchange.HoldSide, entryPrice, price, rate float64) bool {
	if rate == 0 || entryPrice == 0 {
		return true
	}
	deviation := math.Abs(entryPrice-price) / entryPrice
	if deviation < rate {
		return false
	}
	if hold == exchange.HoldLong {
		return price < entryPrice
	}
	return price > entryPrice
}

// handleEntry executes the plan for a directional signal. It returns true
// only when the whole sequence succeeded (or legitimately did nothing), so
// the caller marks the timestamp handled and an interrupted sequence is
// retried on the next tick.
func (e *Engine) handleEntry(ctx context.Context, side exchange.Side, row signal.Row, ts time.Time, pos exchange.Position) bool {
	e.log.Info("directional signal",
		zap.String("side", string(side)),
		zap.Time("ts", ts),
		zap.Float64("close", row.Close))

	// Stale limit orders from a prior signal must not linger.
	if err := e.gateway.CancelAllOrders(ctx, e.cfg.Symbol); err != nil {
		e.log.Warn("cancel orders failed", zap.Error(err))
	}

	plan := planEntry(side, pos, e.cfg)
	switch plan.Kind {
	case ActionClose, ActionReverse:
		closeSide := side.Opposite().Hold().CloseSide()
		if err := e.gateway.ClosePosition(ctx, e.cfg.Symbol, closeSide, plan.CloseAmount); err != nil {
			e.log.Error("close opposing position failed", zap.Error(err))
			return false
		}
		e.log.Info("opposing position closed",
			zap.String("hold", string(side.Hold().Opposite())),
			zap.Float64("amount", plan.CloseAmount))
		if plan.Kind == ActionClose {
			e.notify("closed %s %s %.4f @ %.6f", e.cfg.Symbol, side.Hold().Opposite(), plan.CloseAmount, row.Close)
			return true
		}
		// Reversal: closing the opposing leg says nothing about the leg we
		// are about to build, so the open still honours the guard against
		// any same-direction quantity already held.
		return e.open(ctx, side, plan.OpenAmount, row.Close, pos.Leg(side.Hold()).EntryPrice, ts)

	case ActionOpen:
		return e.open(ctx, side, plan.OpenAmount, row.Close, pos.Leg(side.Hold()).EntryPrice, ts)

	case ActionAtMax:
		e.log.Info("position at maximum, no action",
			zap.String("hold", string(side.Hold())),
			zap.Float64("quantity", pos.Leg(side.Hold()).Quantity),
			zap.Float64("amount_max", e.cfg.AmountMax))
		return true
	}
	return true
}

func (e *Engine) open(ctx context.Context, side exchange.Side, amount, price, entryPrice float64, ts time.Time) bool {
	if !entryGuard(side.Hold(), entryPrice, price, e.cfg.EntryPriceLossRate) {
		e.log.Info("entry guard rejected open",
			zap.String("side", string(side)),
			zap.Float64("entry_price", entryPrice),
			zap.Float64("price", price),
			zap.Float64("rate", e.cfg.EntryPriceLossRate))
		return true
	}
	if err := e.gateway.CreateMarketOrder(ctx, e.cfg.Symbol, side, amount, price); err != nil {
		e.log.Error("open position failed", zap.Error(err))
		return false
	}
	e.placeProtectiveTriggers(ctx, side.Hold(), price, amount)
	e.record(journal.EventOrder, ts, map[string]any{
		"side":   string(side),
		"amount": amount,
		"price":  price,
	})
	e.notify("opened %s %s %.4f @ %.6f", e.cfg.Symbol, side.Hold(), amount, price)
	metrics.OrderPlaced(string(side))
	return true
}

// placeProtectiveTriggers installs exchange-side stop and profit triggers
// around the open price. Failures leave the position unprotected until the
// next successful open, so they are logged but never fail the sequence.
func (e *Engine) placeProtectiveTriggers(ctx context.Context, hold exchange.HoldSide, price, amount float64) {
	if rate := e.cfg.PositionStopLossRate; rate > 0 {
		trigger := price * (1 - rate)
		if hold == exchange.HoldShort {
			trigger = price * (1 + rate)
		}
		if err := e.gateway.PlaceProtectiveTrigger(ctx, e.cfg.Symbol, exchange.TriggerLoss, trigger, hold, amount); err != nil {
			e.log.Warn("stop trigger placement failed", zap.Float64("trigger", trigger), zap.Error(err))
		}
	}
	if rate := e.cfg.PositionTakeProfitRate; rate > 0 {
		trigger := price * (1 + rate)
		if hold == exchange.HoldShort {
			trigger = price * (1 - rate)
		}
		if err := e.gateway.PlaceProtectiveTrigger(ctx, e.cfg.Symbol, exchange.TriggerProfit, trigger, hold, amount); err != nil {
			e.log.Warn("profit trigger placement failed", zap.Float64("trigger", trigger), zap.Error(err))
		}
	}
}
