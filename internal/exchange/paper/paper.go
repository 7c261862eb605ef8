package paper

import (
	"context"
	"math/rand"
	"strconv"
	"sync"

	"main/internal/exchange"
	"main/internal/model"
)

const defaultBasePrice = 100.0

// Exchange is an in-process simulated venue. Prices follow a seeded random
// walk; a resting limit order fills once the walk touches its limit price.
// Safe for concurrent callers.
type Exchange struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]model.Price
	orders map[string]*exchange.Order
	nextID uint64
	// Walk step as a fraction of the current price per tick.
	drift float64
}

// Option tunes the simulated venue.
type Option struct {
	Seed   int64
	Prices map[string]float64
	Drift  float64
}

// New creates a simulated exchange.
func New(opt Option) *Exchange {
	drift := opt.Drift
	if drift <= 0 {
		drift = 0.001
	}
	ex := &Exchange{
		rng:    rand.New(rand.NewSource(opt.Seed)),
		prices: make(map[string]model.Price),
		orders: make(map[string]*exchange.Order),
		nextID: 1,
		drift:  drift,
	}
	for symbol, p := range opt.Prices {
		ex.prices[symbol] = model.PriceFromFloat(p)
	}
	return ex
}

// Price returns the current simulated price, advancing the walk one tick.
func (ex *Exchange) Price(ctx context.Context, symbol string) (model.Price, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.tickLocked(symbol), nil
}

// PlaceLimitOrder accepts a resting limit order.
func (ex *Exchange) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price model.Price, qty model.Quantity) (exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Order{}, err
	}
	if !side.IsAvailable() || price <= 0 || qty <= 0 {
		return exchange.Order{}, exchange.ErrInvalidArgument
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	id := strconv.FormatUint(ex.nextID, 10)
	ex.nextID++
	order := &exchange.Order{
		ID:            id,
		ClientOrderID: "paper-" + id,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		Status:        exchange.OrderStatusNew,
	}
	ex.orders[id] = order
	ex.settleLocked(symbol)
	return *order, nil
}

// CancelOrder cancels a resting order. Terminal orders cannot be cancelled.
func (ex *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()

	order, ok := ex.orders[orderID]
	if !ok || order.Symbol != symbol {
		return exchange.ErrOrderNotFound
	}
	if order.Status.Terminal() {
		return exchange.ErrOrderRejected
	}
	order.Status = exchange.OrderStatusCanceled
	return nil
}

// Order reports the current order state, settling fills against the walk first.
func (ex *Exchange) Order(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Order{}, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()

	ex.tickLocked(symbol)
	ex.settleLocked(symbol)
	order, ok := ex.orders[orderID]
	if !ok || order.Symbol != symbol {
		return exchange.Order{}, exchange.ErrOrderNotFound
	}
	return *order, nil
}

// OpenOrders lists non-terminal orders for a symbol.
func (ex *Exchange) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()

	ex.settleLocked(symbol)
	var out []exchange.Order
	for _, order := range ex.orders {
		if order.Symbol == symbol && !order.Status.Terminal() {
			out = append(out, *order)
		}
	}
	return out, nil
}

// SetPrice pins the walk to an exact price. Test hook.
func (ex *Exchange) SetPrice(symbol string, price model.Price) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.prices[symbol] = price
	ex.settleLocked(symbol)
}

func (ex *Exchange) tickLocked(symbol string) model.Price {
	p, ok := ex.prices[symbol]
	if !ok {
		p = model.PriceFromFloat(defaultBasePrice)
	}
	step := 1 + (ex.rng.Float64()*2-1)*ex.drift
	p = model.PriceFromFloat(p.Float() * step)
	if p <= 0 {
		p = 1
	}
	ex.prices[symbol] = p
	return p
}

func (ex *Exchange) settleLocked(symbol string) {
	market, ok := ex.prices[symbol]
	if !ok {
		return
	}
	for _, order := range ex.orders {
		if order.Symbol != symbol || order.Status.Terminal() {
			continue
		}
		crossed := (order.Side == exchange.SideBuy && market <= order.Price) ||
			(order.Side == exchange.SideSell && market >= order.Price)
		if crossed {
			order.ExecutedQty = order.Quantity
			order.Status = exchange.OrderStatusFilled
		}
	}
}
