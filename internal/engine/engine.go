package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/journal"
	"github.com/wisarmy/exbot/internal/logger"
	"github.com/wisarmy/exbot/internal/metrics"
	"github.com/wisarmy/exbot/internal/notifier"
	"github.com/wisarmy/exbot/internal/signal"
	"github.com/wisarmy/exbot/internal/state"
)

// Engine runs the per-tick execution loop for one symbol. It owns the
// idempotency cache and is driven by a single goroutine; ticks never
// overlap for the same symbol.
type Engine struct {
	cfg      *config.Config
	gateway  exchange.Exchange
	cache    *UsedCache
	journal  journal.Journaler
	audit    *journal.Audit
	notifier notifier.Notifier
	store    state.Manager
	log      *zap.Logger
}

type Option func(*Engine)

func WithJournal(j journal.Journaler) Option {
	return func(e *Engine) { e.journal = j }
}

func WithAudit(a *journal.Audit) Option {
	return func(e *Engine) { e.audit = a }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithStateManager enables cache persistence across restarts.
func WithStateManager(m state.Manager) Option {
	return func(e *Engine) { e.store = m }
}

func New(cfg *config.Config, gateway exchange.Exchange, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		gateway:  gateway,
		cache:    NewUsedCache(cfg.CacheCapacity),
		notifier: notifier.Noop{},
		log:      logger.Module("engine").With(zap.String("symbol", cfg.Symbol)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store != nil {
		var entries []cacheEntry
		if err := e.store.Load(&entries); err != nil {
			e.log.Warn("cache state load failed", zap.Error(err))
		} else {
			e.cache.Restore(entries)
			e.log.Info("cache state restored", zap.Int("entries", e.cache.Len()))
		}
	}
	return e
}

// Cache exposes the idempotency cache for inspection in tests.
func (e *Engine) Cache() *UsedCache { return e.cache }

// Tick runs one execution cycle against the given signal series. It
// returns the side acted on for a directional signal, or "" when the tick
// took the exit path or did nothing. A position query failure aborts the
// tick without mutating any state.
func (e *Engine) Tick(ctx context.Context, series signal.Series) (exchange.Side, error) {
	pos, err := e.gateway.FetchPosition(ctx, e.cfg.Symbol)
	if err != nil {
		e.record(journal.EventError, time.Time{}, map[string]any{"error": err.Error()})
		metrics.TickProcessed(e.cfg.Symbol, false)
		return "", fmt.Errorf("fetch position: %w", err)
	}

	row, err := signal.Resolve(series, 0, time.Time{})
	if err != nil {
		metrics.TickProcessed(e.cfg.Symbol, false)
		return "", err
	}
	ts := row.Timestamp

	e.observePosition(pos, row.Close)

	side := row.Side()
	if side != "" {
		key := CacheKey{Timestamp: ts, Category: CategoryEntry}
		if _, ok := e.cache.Get(key); ok {
			metrics.TickProcessed(e.cfg.Symbol, true)
			return "", nil
		}
		handled := e.handleEntry(ctx, side, row, ts, pos)
		if handled {
			e.cache.Set(key, string(side))
			e.record(journal.EventSignal, ts, map[string]any{
				"side": string(side), "close": row.Close,
			})
			e.persist()
		}
		metrics.TickProcessed(e.cfg.Symbol, handled)
		return side, nil
	}

	if err := e.evaluateExits(ctx, row, ts, pos); err != nil {
		e.record(journal.EventError, ts, map[string]any{"error": err.Error()})
		metrics.TickProcessed(e.cfg.Symbol, false)
		return "", err
	}
	metrics.TickProcessed(e.cfg.Symbol, true)
	return "", nil
}

// observePosition writes the per-tick audit row and updates gauges.
func (e *Engine) observePosition(pos exchange.Position, price float64) {
	if e.audit != nil {
		if err := e.audit.Append(time.Now(), e.cfg.Symbol, price, pos); err != nil {
			e.log.Warn("audit append failed", zap.Error(err))
		}
	}
	metrics.SetUpnl(e.cfg.Symbol, "long", pos.Long.UnrealisedPnl)
	metrics.SetUpnl(e.cfg.Symbol, "short", pos.Short.UnrealisedPnl)
}

// afterExit records the side effects of a successful exit close.
func (e *Engine) afterExit(ctx context.Context, action ExitAction, ts time.Time) {
	metrics.ExitFired(string(action.Category))
	e.record(journal.EventExit, ts, map[string]any{
		"category": string(action.Category),
		"hold":     string(action.Hold),
		"amount":   action.Amount,
		"price":    action.Price,
		"reason":   action.Reason,
	})
	e.notify("%s %s %s %.4f @ %.6f", action.Category, e.cfg.Symbol, action.Hold, action.Amount, action.Price)
	e.persist()
}

func (e *Engine) record(kind journal.EventType, ts time.Time, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(journal.Event{
		Type:      kind,
		Symbol:    e.cfg.Symbol,
		Timestamp: ts,
		Payload:   payload,
	}); err != nil {
		e.log.Warn("journal record failed", zap.Error(err))
	}
}

// notify delivers order and exit notifications; these are rare and worth a
// few delivery attempts, so the retrying send is used.
func (e *Engine) notify(format string, args ...any) {
	if err := e.notifier.SendWithRetry(fmt.Sprintf(format, args...)); err != nil {
		e.log.Warn("notification failed", zap.Error(err))
	}
}

func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.cache.Snapshot()); err != nil {
		e.log.Warn("cache state save failed", zap.Error(err))
	}
}
