package exchange

import (
	"context"
	"errors"

	"main/internal/model"
)

var (
	ErrOrderNotFound   = errors.New("exchange: order not found")
	ErrUnknownSymbol   = errors.New("exchange: unknown symbol")
	ErrOrderRejected   = errors.New("exchange: order rejected")
	ErrInvalidArgument = errors.New("exchange: invalid argument")
)

// Side is the order direction.
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the venue-reported order state.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusNew
	OrderStatusPartFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusRejected
	OrderStatusExpired
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// Terminal reports whether the order can no longer fill.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusPartFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Order is the venue view of a placed order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         model.Price
	Quantity      model.Quantity
	ExecutedQty   model.Quantity
	Status        OrderStatus
}

// Exchange is the trading API surface consumed by strategies. The lifecycle
// manager never touches it directly. Implementations must tolerate concurrent
// callers, since the exchange connection is shared across agents.
type Exchange interface {
	Price(ctx context.Context, symbol string) (model.Price, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, price model.Price, qty model.Quantity) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	Order(ctx context.Context, symbol, orderID string) (Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
}
