package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisarmy/exbot/internal/config"
	"github.com/wisarmy/exbot/internal/exchange"
	"github.com/wisarmy/exbot/internal/journal"
	"github.com/wisarmy/exbot/internal/signal"
	"github.com/wisarmy/exbot/internal/state"
)

func testConfig() *config.Config {
	return &config.Config{
		Symbol:                 "BTC/USDT:USDT",
		Amount:                 1,
		AmountMax:              5,
		CacheCapacity:          128,
		PositionStopLossRate:   0.01,
		PositionTakeProfitRate: 0.02,
	}
}

// testSeries builds a 1m series whose second-to-last row is the resolved
// one: the last row's timestamp is the current minute, so the tick always
// lands mid-candle and the settled row wins.
func testSeries(mutate func(resolved *signal.Row)) signal.Series {
	last := time.Now().Truncate(time.Minute).Add(time.Minute)
	series := make(signal.Series, 4)
	for i := range series {
		series[i] = signal.Row{
			Timestamp: last.Add(time.Duration(i-3) * time.Minute),
			Close:     100,
		}
	}
	if mutate != nil {
		mutate(&series[2])
	}
	return series
}

func TestTickOpensLong(t *testing.T) {
	mock := exchange.NewMockExchange()
	e := New(testConfig(), mock)

	series := testSeries(func(r *signal.Row) { r.Buy = true })
	side, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, exchange.SideBuy, side)

	require.Len(t, mock.Orders, 1)
	assert.Equal(t, exchange.SideBuy, mock.Orders[0].Side)
	assert.Equal(t, 1.0, mock.Orders[0].Amount)
	assert.Equal(t, 100.0, mock.Orders[0].Price)
	assert.False(t, mock.Orders[0].Close)
	assert.Equal(t, []string{"BTC/USDT:USDT"}, mock.Cancels)

	require.Len(t, mock.Triggers, 2)
	assert.Equal(t, exchange.TriggerLoss, mock.Triggers[0].Kind)
	assert.InDelta(t, 99.0, mock.Triggers[0].TriggerPrice, 1e-9)
	assert.Equal(t, exchange.TriggerProfit, mock.Triggers[1].Kind)
	assert.InDelta(t, 102.0, mock.Triggers[1].TriggerPrice, 1e-9)
	assert.Equal(t, 1.0, mock.Triggers[0].Amount)
	assert.Equal(t, exchange.HoldLong, mock.Triggers[0].HoldSide)

	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.True(t, handled)
}

func TestTickIdempotent(t *testing.T) {
	mock := exchange.NewMockExchange()
	e := New(testConfig(), mock)
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	side, err := e.Tick(context.Background(), series)
	require.NoError(t, err)

	assert.Empty(t, string(side), "second tick is a no-op")
	assert.Len(t, mock.Orders, 1, "at most one entry order per signal")
}

func TestTickReversal(t *testing.T) {
	cfg := testConfig()
	cfg.Reversals = true
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{}, exchange.PositionSide{Quantity: 3, EntryPrice: 105})
	e := New(cfg, mock)

	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.Buy = true }))
	require.NoError(t, err)

	require.Len(t, mock.Orders, 2)
	assert.True(t, mock.Orders[0].Close)
	assert.Equal(t, exchange.SideBuy, mock.Orders[0].Side)
	assert.Equal(t, 3.0, mock.Orders[0].Amount)
	assert.False(t, mock.Orders[1].Close)
	assert.Equal(t, exchange.SideBuy, mock.Orders[1].Side)
	assert.Equal(t, 1.0, mock.Orders[1].Amount)

	pos, err := mock.FetchPosition(context.Background(), cfg.Symbol)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos.Short.Quantity)
	assert.Equal(t, 1.0, pos.Long.Quantity)
}

func TestTickCloseWithoutReversal(t *testing.T) {
	cfg := testConfig()
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 2, EntryPrice: 95}, exchange.PositionSide{})
	e := New(cfg, mock)

	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.Sell = true }))
	require.NoError(t, err)

	require.Len(t, mock.Orders, 1)
	assert.True(t, mock.Orders[0].Close)
	assert.Equal(t, 2.0, mock.Orders[0].Amount)
}

func TestTickFailedCloseRetries(t *testing.T) {
	cfg := testConfig()
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{}, exchange.PositionSide{Quantity: 3})
	mock.FailOn["close"] = errors.New("boom")
	e := New(cfg, mock)
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.False(t, handled, "failed sequence must not be marked handled")

	// Exchange recovers; the next tick retries the same signal.
	delete(mock.FailOn, "close")
	_, err = e.Tick(context.Background(), series)
	require.NoError(t, err)
	_, handled = e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.True(t, handled)
}

func TestTickAtMax(t *testing.T) {
	cfg := testConfig()
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 5, EntryPrice: 100}, exchange.PositionSide{})
	e := New(cfg, mock)
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	side, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, exchange.SideBuy, side)
	assert.Empty(t, mock.Orders)

	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.True(t, handled, "at-max still consumes the signal")
}

func TestTickEntryGuard(t *testing.T) {
	cfg := testConfig()
	cfg.EntryPriceLossRate = 0.005
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 1, EntryPrice: 100}, exchange.PositionSide{})
	e := New(cfg, mock)

	// Price equals the existing entry: no adverse move, the add is
	// rejected but the signal still counts as handled.
	series := testSeries(func(r *signal.Row) { r.Buy = true })
	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Empty(t, mock.Orders)
	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.True(t, handled)
}

func TestTickExitPath(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = true
	cfg.CloseAmount = 1
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 3, EntryPrice: 90, UnrealisedPnl: 5}, exchange.PositionSide{})
	e := New(cfg, mock)
	series := testSeries(func(r *signal.Row) { r.TakeProfit = exchange.SideBuy })

	side, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Empty(t, string(side))

	require.Len(t, mock.Orders, 1)
	assert.True(t, mock.Orders[0].Close)
	assert.Equal(t, exchange.SideSell, mock.Orders[0].Side)
	assert.Equal(t, 1.0, mock.Orders[0].Amount)

	// Same series again: the category is cached, nothing more happens.
	_, err = e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Len(t, mock.Orders, 1)
}

func TestTickExitFailureRetries(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = true
	cfg.CloseAmount = 1
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 3, EntryPrice: 90}, exchange.PositionSide{})
	mock.FailOn["close"] = errors.New("boom")
	e := New(cfg, mock)
	series := testSeries(func(r *signal.Row) { r.TakeProfit = exchange.SideBuy })

	_, err := e.Tick(context.Background(), series)
	require.Error(t, err)
	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryTakeProfit})
	assert.False(t, handled)

	delete(mock.FailOn, "close")
	_, err = e.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Len(t, mock.Orders, 2, "one failed attempt, one successful retry")
}

func TestTickPositionFailureAborts(t *testing.T) {
	mock := exchange.NewMockExchange()
	mock.FailOn["position"] = errors.New("transport down")
	e := New(testConfig(), mock)

	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.Buy = true }))
	require.Error(t, err)
	assert.Equal(t, 0, e.Cache().Len())
	assert.Empty(t, mock.Orders)
	assert.Empty(t, mock.Cancels)
}

func TestTickInsufficientSeries(t *testing.T) {
	e := New(testConfig(), exchange.NewMockExchange())
	_, err := e.Tick(context.Background(), signal.Series{{Timestamp: time.Now()}})
	assert.ErrorIs(t, err, signal.ErrInsufficientData)
}

func TestCachePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "cache.json")
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	mock := exchange.NewMockExchange()
	e := New(cfg, mock, WithStateManager(state.NewFileManager(path)))
	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, mock.Orders, 1)

	// A fresh engine from the same state file must not re-enter.
	mock2 := exchange.NewMockExchange()
	e2 := New(cfg, mock2, WithStateManager(state.NewFileManager(path)))
	_, err = e2.Tick(context.Background(), series)
	require.NoError(t, err)
	assert.Empty(t, mock2.Orders)
}

func TestTickReversalGuardedByHeldLeg(t *testing.T) {
	cfg := testConfig()
	cfg.Reversals = true
	cfg.EntryPriceLossRate = 0.005
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol,
		exchange.PositionSide{Quantity: 1, EntryPrice: 100},
		exchange.PositionSide{Quantity: 3, EntryPrice: 105})
	e := New(cfg, mock)
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)

	// The short leg is closed, but the reversal open must respect the
	// entry held on the long leg: price 100 against entry 100 is no
	// adverse move, so nothing opens.
	require.Len(t, mock.Orders, 1)
	assert.True(t, mock.Orders[0].Close)
	assert.Equal(t, 3.0, mock.Orders[0].Amount)

	_, handled := e.Cache().Get(CacheKey{Timestamp: series[2].Timestamp, Category: CategoryEntry})
	assert.True(t, handled)
}

// tickOutcome reads the current ticks counter for a symbol and outcome
// label from the default prometheus registry.
func tickOutcome(t *testing.T, symbol, outcome string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "exbot_ticks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["symbol"] == symbol && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestTickEntryFailureCountsAsError(t *testing.T) {
	cfg := testConfig()
	cfg.Symbol = "ERR/USDT:USDT"
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{}, exchange.PositionSide{Quantity: 3})
	mock.FailOn["close"] = errors.New("boom")
	e := New(cfg, mock)

	before := tickOutcome(t, cfg.Symbol, "error")
	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.Buy = true }))
	require.NoError(t, err)
	assert.Equal(t, before+1, tickOutcome(t, cfg.Symbol, "error"),
		"a failed entry sequence counts as an error tick")
}

func TestTickJournalsOrders(t *testing.T) {
	j := journal.NewMemoryJournal()
	mock := exchange.NewMockExchange()
	e := New(testConfig(), mock, WithJournal(j))
	series := testSeries(func(r *signal.Row) { r.Buy = true })

	_, err := e.Tick(context.Background(), series)
	require.NoError(t, err)

	window := time.Minute
	orders, err := j.Events(journal.EventOrder, time.Now().Add(-window), time.Now().Add(window))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "buy", orders[0].Payload["side"])
	assert.Equal(t, series[2].Timestamp, orders[0].Timestamp)

	signals, err := j.Events(journal.EventSignal, time.Now().Add(-window), time.Now().Add(window))
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestTickJournalsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfit = true
	cfg.CloseAmount = 1
	j := journal.NewMemoryJournal()
	mock := exchange.NewMockExchange()
	mock.SetPosition(cfg.Symbol, exchange.PositionSide{Quantity: 3, EntryPrice: 90}, exchange.PositionSide{})
	mock.FailOn["close"] = errors.New("boom")
	e := New(cfg, mock, WithJournal(j))

	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.TakeProfit = exchange.SideBuy }))
	require.Error(t, err)

	window := time.Minute
	errs, err := j.Events(journal.EventError, time.Now().Add(-window), time.Now().Add(window))
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Payload["error"], "boom")
}

type captureNotifier struct {
	msgs []string
}

func (c *captureNotifier) Send(msg string) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureNotifier) SendWithRetry(msg string) error { return c.Send(msg) }

func TestTickNotifiesOnOpen(t *testing.T) {
	n := &captureNotifier{}
	mock := exchange.NewMockExchange()
	e := New(testConfig(), mock, WithNotifier(n))

	_, err := e.Tick(context.Background(), testSeries(func(r *signal.Row) { r.Buy = true }))
	require.NoError(t, err)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "opened")
}
