package strategy

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/bytedance/sonic"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
)

// fakeExchange is a scriptable venue: tests set prices and flip order
// statuses directly.
type fakeExchange struct {
	mu       sync.Mutex
	prices   map[string]model.Price
	priceErr error
	orders   map[string]*exchange.Order
	nextID   int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices: make(map[string]model.Price),
		orders: make(map[string]*exchange.Order),
	}
}

func (f *fakeExchange) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = model.PriceFromFloat(price)
}

func (f *fakeExchange) setStatus(id string, status exchange.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[id].Status = status
}

func (f *fakeExchange) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeExchange) Price(ctx context.Context, symbol string) (model.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, exchange.ErrUnknownSymbol
	}
	return price, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price model.Price, qty model.Quantity) (exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order := exchange.Order{
		ID:       strconv.Itoa(f.nextID),
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Status:   exchange.OrderStatusNew,
	}
	f.orders[order.ID] = &order
	return order, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	order.Status = exchange.OrderStatusCanceled
	return nil
}

func (f *fakeExchange) Order(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return exchange.Order{}, exchange.ErrOrderNotFound
	}
	return *order, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exchange.Order
	for _, order := range f.orders {
		if order.Symbol == symbol && !order.Status.Terminal() {
			out = append(out, *order)
		}
	}
	return out, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	trades []*model.Trade
}

func (r *fakeRecorder) RecordTrade(ctx context.Context, trade *model.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *fakePublisher) PublishJSON(channel string, v any) error {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	var event map[string]any
	if err := sonic.Unmarshal(raw, &event); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func busMessage(channel, payload string) bus.Message {
	return bus.Message{Channel: channel, Payload: []byte(payload)}
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New(enum.StrategyKind(99), Env{}); !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNewKnownKinds(t *testing.T) {
	grid, err := New(enum.StrategyKindGrid, Env{})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if _, ok := grid.(*Grid); !ok {
		t.Fatalf("expected *Grid, got %T", grid)
	}

	arb, err := New(enum.StrategyKindArbitrage, Env{})
	if err != nil {
		t.Fatalf("arbitrage: %v", err)
	}
	if _, ok := arb.(*Arbitrage); !ok {
		t.Fatalf("expected *Arbitrage, got %T", arb)
	}
}

func TestIntervalFromConfig(t *testing.T) {
	d, err := intervalFromConfig(map[string]any{})
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if d.Seconds() != 10 {
		t.Fatalf("expected 10s default, got %s", d)
	}

	if _, err := intervalFromConfig(map[string]any{"loop_interval_seconds": 0.0}); !IsConfigError(err) {
		t.Fatalf("expected config error for zero interval, got %v", err)
	}
}
