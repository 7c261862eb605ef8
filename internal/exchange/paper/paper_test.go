package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/exchange"
	"main/internal/model"
)

func TestPriceWalkIsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})
	b := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})

	for i := 0; i < 10; i++ {
		pa, err := a.Price(ctx, "BTCUSDT")
		require.NoError(t, err)
		pb, err := b.Price(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestPriceStaysNearDrift(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 7, Prices: map[string]float64{"BTCUSDT": 100}, Drift: 0.001})

	p, err := ex.Price(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100, p.Float(), 0.2)
}

func TestPlaceAndFillLimitOrder(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})

	// Resting buy well below market stays NEW.
	order, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, model.PriceFromFloat(50), model.QuantityFromFloat(1))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusNew, order.Status)
	assert.NotEmpty(t, order.ID)

	// Pin the walk under the limit; the next poll settles the fill.
	ex.SetPrice("BTCUSDT", model.PriceFromFloat(40))
	got, err := ex.Order(ctx, "BTCUSDT", order.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusFilled, got.Status)
	assert.Equal(t, got.Quantity, got.ExecutedQty)
}

func TestMarketableOrderFillsImmediately(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})

	order, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, model.PriceFromFloat(200), model.QuantityFromFloat(1))
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusFilled, order.Status)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})

	order, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideSell, model.PriceFromFloat(500), model.QuantityFromFloat(1))
	require.NoError(t, err)

	require.NoError(t, ex.CancelOrder(ctx, "BTCUSDT", order.ID))
	got, err := ex.Order(ctx, "BTCUSDT", order.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderStatusCanceled, got.Status)

	// Cancelled orders are terminal.
	assert.ErrorIs(t, ex.CancelOrder(ctx, "BTCUSDT", order.ID), exchange.ErrOrderRejected)
	assert.ErrorIs(t, ex.CancelOrder(ctx, "BTCUSDT", "999"), exchange.ErrOrderNotFound)
	assert.ErrorIs(t, ex.CancelOrder(ctx, "ETHUSDT", order.ID), exchange.ErrOrderNotFound)
}

func TestOpenOrdersSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 1, Prices: map[string]float64{"BTCUSDT": 100}})

	resting, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideSell, model.PriceFromFloat(500), model.QuantityFromFloat(1))
	require.NoError(t, err)
	cancelled, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideSell, model.PriceFromFloat(600), model.QuantityFromFloat(1))
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "BTCUSDT", cancelled.ID))

	open, err := ex.OpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, resting.ID, open[0].ID)
}

func TestPlaceLimitOrderValidation(t *testing.T) {
	ctx := context.Background()
	ex := New(Option{Seed: 1})

	_, err := ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, 0, model.QuantityFromFloat(1))
	assert.ErrorIs(t, err, exchange.ErrInvalidArgument)
	_, err = ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.SideBuy, model.PriceFromFloat(100), 0)
	assert.ErrorIs(t, err, exchange.ErrInvalidArgument)
	_, err = ex.PlaceLimitOrder(ctx, "BTCUSDT", exchange.Side(0), model.PriceFromFloat(100), model.QuantityFromFloat(1))
	assert.ErrorIs(t, err, exchange.ErrInvalidArgument)
}

func TestContextCancellation(t *testing.T) {
	ex := New(Option{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Price(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = ex.OpenOrders(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.Canceled)
}
