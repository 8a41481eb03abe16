package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/wisarmy/exbot/internal/candle"
)

// MockExchange is an in-memory gateway used by tests. It tracks one
// hedge-mode position per symbol and records every order for assertions.
type MockExchange struct {
	mu sync.Mutex

	positions map[string]*Position
	candles   []candle.Candle
	balance   float64

	Orders   []MockOrder
	Triggers []MockTrigger
	Cancels  []string

	// FailOn makes the named operation return an error. Keys are
	// "close", "open", "trigger", "cancel", "position", "candles".
	FailOn map[string]error
}

type MockOrder struct {
	Symbol string
	Side   Side
	Amount float64
	Price  float64
	Close  bool
}

type MockTrigger struct {
	Symbol       string
	Kind         TriggerKind
	TriggerPrice float64
	HoldSide     HoldSide
	Amount       float64
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		positions: make(map[string]*Position),
		balance:   10000,
		FailOn:    make(map[string]error),
	}
}

func (m *MockExchange) Name() string { return "mock" }

// SetPosition installs the hedge-mode legs returned by FetchPosition.
func (m *MockExchange) SetPosition(symbol string, long, short PositionSide) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = &Position{Symbol: symbol, Long: long, Short: short}
}

func (m *MockExchange) SetCandles(candles []candle.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles = candles
}

func (m *MockExchange) FetchPosition(ctx context.Context, symbol string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["position"]; err != nil {
		return Position{}, err
	}
	if p, ok := m.positions[symbol]; ok {
		return *p, nil
	}
	return Position{Symbol: symbol}, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string, side Side, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["close"]; err != nil {
		return err
	}
	m.Orders = append(m.Orders, MockOrder{Symbol: symbol, Side: side, Amount: amount, Close: true})
	p, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("no position for %s", symbol)
	}
	hold := side.Opposite().Hold()
	leg := p.Leg(hold)
	leg.Quantity -= amount
	if leg.Quantity <= 0 {
		leg = PositionSide{}
	}
	if hold == HoldLong {
		p.Long = leg
	} else {
		p.Short = leg
	}
	return nil
}

func (m *MockExchange) CreateMarketOrder(ctx context.Context, symbol string, side Side, amount, referencePrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["open"]; err != nil {
		return err
	}
	m.Orders = append(m.Orders, MockOrder{Symbol: symbol, Side: side, Amount: amount, Price: referencePrice})
	p, ok := m.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol}
		m.positions[symbol] = p
	}
	leg := p.Leg(side.Hold())
	total := leg.Quantity + amount
	if total > 0 {
		leg.EntryPrice = (leg.EntryPrice*leg.Quantity + referencePrice*amount) / total
	}
	leg.Quantity = total
	if side.Hold() == HoldLong {
		p.Long = leg
	} else {
		p.Short = leg
	}
	return nil
}

func (m *MockExchange) PlaceProtectiveTrigger(ctx context.Context, symbol string, kind TriggerKind, triggerPrice float64, holdSide HoldSide, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["trigger"]; err != nil {
		return err
	}
	m.Triggers = append(m.Triggers, MockTrigger{Symbol: symbol, Kind: kind, TriggerPrice: triggerPrice, HoldSide: holdSide, Amount: amount})
	return nil
}

func (m *MockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["cancel"]; err != nil {
		return err
	}
	m.Cancels = append(m.Cancels, symbol)
	return nil
}

func (m *MockExchange) FetchCandles(ctx context.Context, symbol, timeframe string, count int) ([]candle.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn["candles"]; err != nil {
		return nil, err
	}
	out := make([]candle.Candle, len(m.candles))
	copy(out, m.candles)
	return out, nil
}

func (m *MockExchange) FetchBalance(ctx context.Context, quote string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}
