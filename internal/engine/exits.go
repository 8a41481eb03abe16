package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/signal"
)

// ExitAction is one candidate close produced by the evaluator. Hold is the
// leg being reduced, Side the order side of the close call.
type ExitAction struct {
	Category ActionCategory
	Hold     exchange.HoldSide
	Side     exchange.Side
	Amount   float64
	Price    float64
	Reason   string
}

// exitCandidates is the pure decision half of the exit evaluator: it walks
// the six rules in priority order against the resolved row and both legs,
// and returns every rule that fires. The caller issues at most one close
// per tick, idempotency-gated per category.
func exitCandidates(row signal.Row, pos exchange.Position, cfg *config.Config) []ExitAction {
	var out []ExitAction

	// 1. Signal-tagged take profit. The tag names the entry side whose leg
	// is reduced. Fires only when close_amount is configured.
	if cfg.TakeProfit && row.TakeProfit != "" {
		hold := row.TakeProfit.Hold()
		if amount := min(cfg.CloseAmount, pos.Leg(hold).Quantity); amount > 0 {
			out = append(out, ExitAction{
				Category: CategoryTakeProfit,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   amount,
				Price:    row.Close,
				Reason:   "signal take profit",
			})
		}
	}

	// 2. Signal-tagged stop loss, symmetric to (1).
	if cfg.StopLoss && row.StopLoss != "" {
		hold := row.StopLoss.Hold()
		if amount := min(cfg.CloseAmount, pos.Leg(hold).Quantity); amount > 0 {
			out = append(out, ExitAction{
				Category: CategoryStopLoss,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   amount,
				Price:    row.Close,
				Reason:   "signal stop loss",
			})
		}
	}

	// Rules 3-6 walk categories in priority order and the legs inside each
	// category, so a lower rule on one leg never outranks a higher rule on
	// the other.
	legs := []exchange.HoldSide{exchange.HoldLong, exchange.HoldShort}

	// 3. Fixed unrealised pnl take profit.
	if cfg.TakeProfitFixUpnl > 0 {
		for _, hold := range legs {
			leg := pos.Leg(hold)
			if leg.Quantity <= 0 || leg.UnrealisedPnl <= cfg.TakeProfitFixUpnl {
				continue
			}
			out = append(out, ExitAction{
				Category: CategoryTakeProfitFixUpnl,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   closeQuantity(cfg.CloseAmount, leg.Quantity),
				Price:    row.Close,
				Reason:   fmt.Sprintf("upnl %.4f above %.4f", leg.UnrealisedPnl, cfg.TakeProfitFixUpnl),
			})
		}
	}

	// 4. Fixed unrealised pnl stop loss (threshold is negative).
	if cfg.StopLossFixUpnl < 0 {
		for _, hold := range legs {
			leg := pos.Leg(hold)
			if leg.Quantity <= 0 || leg.UnrealisedPnl >= cfg.StopLossFixUpnl {
				continue
			}
			out = append(out, ExitAction{
				Category: CategoryStopLossFixUpnl,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   closeQuantity(cfg.CloseAmount, leg.Quantity),
				Price:    row.Close,
				Reason:   fmt.Sprintf("upnl %.4f below %.4f", leg.UnrealisedPnl, cfg.StopLossFixUpnl),
			})
		}
	}

	// 5. Fixed price deviation take profit: price crossed the target
	// derived from the entry price in the favorable direction.
	if cfg.TakeProfitFixPriceRate > 0 {
		for _, hold := range legs {
			leg := pos.Leg(hold)
			if leg.Quantity <= 0 || leg.EntryPrice <= 0 {
				continue
			}
			target := leg.EntryPrice * (1 + cfg.TakeProfitFixPriceRate)
			if hold == exchange.HoldShort {
				target = leg.EntryPrice * (1 - cfg.TakeProfitFixPriceRate)
			}
			if !crossedFavorably(hold, row.Close, target) {
				continue
			}
			out = append(out, ExitAction{
				Category: CategoryTakeProfitFixPriceRate,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   closeQuantity(cfg.CloseAmount, leg.Quantity),
				Price:    row.Close,
				Reason:   fmt.Sprintf("price %.6f past target %.6f", row.Close, target),
			})
		}
	}

	// 6. Fixed price deviation stop loss, unfavorable crossing.
	if cfg.StopLossFixPriceRate > 0 {
		for _, hold := range legs {
			leg := pos.Leg(hold)
			if leg.Quantity <= 0 || leg.EntryPrice <= 0 {
				continue
			}
			target := leg.EntryPrice * (1 - cfg.StopLossFixPriceRate)
			if hold == exchange.HoldShort {
				target = leg.EntryPrice * (1 + cfg.StopLossFixPriceRate)
			}
			if !crossedFavorably(hold.Opposite(), row.Close, target) {
				continue
			}
			out = append(out, ExitAction{
				Category: CategoryStopLossFixPriceRate,
				Hold:     hold,
				Side:     hold.CloseSide(),
				Amount:   closeQuantity(cfg.CloseAmount, leg.Quantity),
				Price:    row.Close,
				Reason:   fmt.Sprintf("price %.6f past stop %.6f", row.Close, target),
			})
		}
	}
	return out
}

// closeQuantity caps the close at the configured amount; 0 means the full
// position for the fixed exit rules.
func closeQuantity(closeAmount, quantity float64) float64 {
	if closeAmount <= 0 {
		return quantity
	}
	return min(closeAmount, quantity)
}

// crossedFavorably reports whether price reached target in the direction
// that profits the holding: up for longs, down for shorts.
func crossedFavorably(hold exchange.HoldSide, price, target float64) bool {
	if hold == exchange.HoldLong {
		return price >= target
	}
	return price <= target
}

// evaluateExits is the imperative shell: it issues the first uncached
// candidate close and marks its category handled only on success, so a
// failed close is retried on the next tick.
func (e *Engine) evaluateExits(ctx context.Context, row signal.Row, ts time.Time, pos exchange.Position) error {
	for _, action := range exitCandidates(row, pos, e.cfg) {
		key := CacheKey{Timestamp: ts, Category: action.Category}
		if _, ok := e.cache.Get(key); ok {
			continue
		}
		e.log.Info("exit condition fired",
			zap.String("category", string(action.Category)),
			zap.String("hold", string(action.Hold)),
			zap.Float64("amount", action.Amount),
			zap.Float64("price", action.Price),
			zap.String("reason", action.Reason))

		if err := e.gateway.ClosePosition(ctx, e.cfg.Symbol, action.Side, action.Amount); err != nil {
			return fmt.Errorf("exit close %s: %w", action.Category, err)
		}
		e.cache.Set(key, string(action.Side))
		e.afterExit(ctx, action, ts)
		return nil
	}
	return nil
}
