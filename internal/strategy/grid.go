package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/model"
)

const gridMaxPriceFailures = 3

// Grid places buy orders below the current price and sell orders above,
// profiting from fluctuations inside a fixed range. When a grid order fills,
// the opposing order is placed one level away, the original logic of a
// classic grid bot.
type Grid struct {
	env Env

	symbol        string
	lower         model.Price
	upper         model.Price
	levels        int
	orderUSD      float64
	step          model.Price
	lines         []model.Price
	interval      time.Duration
	maxRoundTrips int

	placed        bool
	priceFailures int
	roundTrips    int
	openBuys      map[string]exchange.Order
	openSells     map[string]exchange.Order

	diagMu     sync.Mutex
	signalSeen uint64
	lastSignal string
}

// NewGrid creates an unconfigured grid strategy.
func NewGrid(env Env) *Grid {
	return &Grid{
		env:       env,
		interval:  10 * time.Second,
		openBuys:  make(map[string]exchange.Order),
		openSells: make(map[string]exchange.Order),
	}
}

// Configure validates the grid parameters. It has no side effects on the
// exchange.
func (g *Grid) Configure(cfg map[string]any) error {
	symbol, err := requireString(cfg, "symbol")
	if err != nil {
		return err
	}
	lower, err := requireFloat(cfg, "lower_price")
	if err != nil {
		return err
	}
	upper, err := requireFloat(cfg, "upper_price")
	if err != nil {
		return err
	}
	levels, err := requireFloat(cfg, "grid_levels")
	if err != nil {
		return err
	}
	orderUSD, err := requireFloat(cfg, "order_amount_usd")
	if err != nil {
		return err
	}
	interval, err := intervalFromConfig(cfg)
	if err != nil {
		return err
	}
	maxRoundTrips, err := optionalFloat(cfg, "max_round_trips", 0)
	if err != nil {
		return err
	}

	if lower >= upper {
		return configErrorf("lower_price %v must be less than upper_price %v", lower, upper)
	}
	if int(levels) < 2 {
		return configErrorf("grid_levels must be at least 2, got %v", levels)
	}
	if orderUSD <= 0 {
		return configErrorf("order_amount_usd must be positive, got %v", orderUSD)
	}
	if maxRoundTrips < 0 {
		return configErrorf("max_round_trips must not be negative")
	}

	g.symbol = symbol
	g.lower = model.PriceFromFloat(lower)
	g.upper = model.PriceFromFloat(upper)
	g.levels = int(levels)
	g.orderUSD = orderUSD
	g.interval = interval
	g.maxRoundTrips = int(maxRoundTrips)

	g.step = (g.upper - g.lower) / model.Price(g.levels-1)
	g.lines = g.lines[:0]
	for i := 0; i < g.levels; i++ {
		g.lines = append(g.lines, g.lower+model.Price(i)*g.step)
	}

	logs.Infof("grid %s configured: %s range %s-%s levels %d order %.2f USD",
		g.env.AgentName, g.symbol, g.lower, g.upper, g.levels, g.orderUSD)
	return nil
}

// Step runs one decision cycle: place the initial grid, then check open
// orders and replace fills with opposing orders.
func (g *Grid) Step(ctx context.Context) (StepOutcome, error) {
	if !g.placed {
		if err := g.placeInitialGrid(ctx); err != nil {
			return StepContinue, err
		}
		return StepContinue, nil
	}

	if err := g.checkAndReplace(ctx); err != nil {
		return StepContinue, err
	}

	if g.maxRoundTrips > 0 && g.roundTrips >= g.maxRoundTrips {
		g.cancelAll(ctx)
		logs.Infof("grid %s reached %d round trips, halting", g.env.AgentName, g.roundTrips)
		return StepHalt, nil
	}
	return StepContinue, nil
}

// OnMessage records the signal for diagnostics only. Live trading parameters
// are never mutated from the message path.
func (g *Grid) OnMessage(msg bus.Message) {
	g.diagMu.Lock()
	g.signalSeen++
	g.lastSignal = msg.Channel
	g.diagMu.Unlock()
	logs.Infof("grid %s observed signal on %s (%d bytes)", g.env.AgentName, msg.Channel, len(msg.Payload))
}

// Interval returns the configured step cadence.
func (g *Grid) Interval() time.Duration {
	return g.interval
}

// SignalsSeen reports how many bus messages the strategy has observed.
func (g *Grid) SignalsSeen() uint64 {
	g.diagMu.Lock()
	defer g.diagMu.Unlock()
	return g.signalSeen
}

func (g *Grid) placeInitialGrid(ctx context.Context) error {
	spot, err := g.env.Exchange.Price(ctx, g.symbol)
	if err != nil {
		g.priceFailures++
		if g.priceFailures >= gridMaxPriceFailures {
			return fmt.Errorf("failed to get initial price after %d attempts: %w", g.priceFailures, err)
		}
		logs.Warnf("grid %s price fetch failed (%d/%d): %v", g.env.AgentName, g.priceFailures, gridMaxPriceFailures, err)
		return nil
	}
	g.priceFailures = 0

	placedCount := 0
	for _, line := range g.lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		qty := model.QuantityFromFloat(g.orderUSD / line.Float())
		if qty <= 0 {
			logs.Warnf("grid %s: zero quantity at level %s, skipping", g.env.AgentName, line)
			continue
		}

		var side exchange.Side
		switch {
		case line < spot:
			side = exchange.SideBuy
		case line > spot:
			side = exchange.SideSell
		default:
			continue
		}

		order, err := g.env.Exchange.PlaceLimitOrder(ctx, g.symbol, side, line, qty)
		if err != nil {
			logs.Errorf("grid %s: place %s at %s failed: %v", g.env.AgentName, side, line, err)
			continue
		}
		g.track(order)
		placedCount++
	}

	if placedCount == 0 {
		return fmt.Errorf("no grid orders placed for %s (spot %s, range %s-%s)", g.symbol, spot, g.lower, g.upper)
	}
	g.placed = true
	logs.Infof("grid %s placed initial grid: %d buys, %d sells",
		g.env.AgentName, len(g.openBuys), len(g.openSells))
	return nil
}

func (g *Grid) checkAndReplace(ctx context.Context) error {
	open := make([]exchange.Order, 0, len(g.openBuys)+len(g.openSells))
	for _, o := range g.openBuys {
		open = append(open, o)
	}
	for _, o := range g.openSells {
		open = append(open, o)
	}

	for _, tracked := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := g.env.Exchange.Order(ctx, g.symbol, tracked.ID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			g.untrack(tracked)
			continue
		}
		if err != nil {
			logs.Warnf("grid %s: query order %s failed: %v", g.env.AgentName, tracked.ID, err)
			continue
		}

		switch current.Status {
		case exchange.OrderStatusFilled:
			g.untrack(tracked)
			g.onFill(ctx, current)
		case exchange.OrderStatusCanceled, exchange.OrderStatusRejected, exchange.OrderStatusExpired:
			logs.Warnf("grid %s: order %s is %s, dropping from tracking", g.env.AgentName, current.ID, current.Status)
			g.untrack(tracked)
		}
	}
	return nil
}

func (g *Grid) onFill(ctx context.Context, filled exchange.Order) {
	logs.Infof("grid %s: %s %s filled at %s", g.env.AgentName, filled.Side, filled.Quantity, filled.Price)

	var pnl *float64
	if filled.Side == exchange.SideSell {
		// Simplified PnL: assume the sell closes a buy one grid level below.
		v := g.step.Float() * filled.Quantity.Float()
		pnl = &v
		g.roundTrips++
	}
	g.recordTrade(ctx, filled, pnl)
	g.publishFill(filled, pnl)

	// Replace with the opposing order one level away, inside the range.
	switch filled.Side {
	case exchange.SideBuy:
		sellAt := filled.Price + g.step
		if sellAt <= g.upper {
			g.placeSingle(ctx, exchange.SideSell, sellAt, filled.Quantity)
		}
	case exchange.SideSell:
		buyAt := filled.Price - g.step
		if buyAt >= g.lower {
			g.placeSingle(ctx, exchange.SideBuy, buyAt, filled.Quantity)
		}
	}
}

func (g *Grid) placeSingle(ctx context.Context, side exchange.Side, price model.Price, qty model.Quantity) {
	order, err := g.env.Exchange.PlaceLimitOrder(ctx, g.symbol, side, price, qty)
	if err != nil {
		logs.Errorf("grid %s: replace %s at %s failed: %v", g.env.AgentName, side, price, err)
		return
	}
	g.track(order)
}

func (g *Grid) cancelAll(ctx context.Context) {
	for id := range g.openBuys {
		if err := g.env.Exchange.CancelOrder(ctx, g.symbol, id); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			logs.Warnf("grid %s: cancel %s failed: %v", g.env.AgentName, id, err)
		}
	}
	for id := range g.openSells {
		if err := g.env.Exchange.CancelOrder(ctx, g.symbol, id); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			logs.Warnf("grid %s: cancel %s failed: %v", g.env.AgentName, id, err)
		}
	}
	g.openBuys = make(map[string]exchange.Order)
	g.openSells = make(map[string]exchange.Order)
}

func (g *Grid) recordTrade(ctx context.Context, order exchange.Order, pnl *float64) {
	if g.env.Recorder == nil {
		return
	}
	trade := &model.Trade{
		AgentID:       g.env.AgentID,
		Symbol:        order.Symbol,
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		Side:          order.Side.String(),
		Price:         order.Price.Float(),
		Quantity:      order.Quantity.Float(),
		QuoteQuantity: order.Price.Float() * order.Quantity.Float(),
		PnLUSD:        pnl,
	}
	if err := g.env.Recorder.RecordTrade(ctx, trade); err != nil {
		logs.Errorf("grid %s: record trade %s failed: %v", g.env.AgentName, order.ID, err)
	}
}

func (g *Grid) publishFill(order exchange.Order, pnl *float64) {
	if g.env.Publisher == nil {
		return
	}
	event := map[string]any{
		"agent_id": g.env.AgentID.String(),
		"event":    "trade",
		"symbol":   order.Symbol,
		"side":     order.Side.String(),
		"price":    order.Price.String(),
		"quantity": order.Quantity.String(),
	}
	if pnl != nil {
		event["pnl_usd"] = *pnl
	}
	if err := g.env.Publisher.PublishJSON(bus.ChannelAgentEvents, event); err != nil {
		logs.Warnf("grid %s: publish fill event failed: %v", g.env.AgentName, err)
	}
}

func (g *Grid) track(order exchange.Order) {
	switch order.Side {
	case exchange.SideBuy:
		g.openBuys[order.ID] = order
	case exchange.SideSell:
		g.openSells[order.ID] = order
	}
}

func (g *Grid) untrack(order exchange.Order) {
	delete(g.openBuys, order.ID)
	delete(g.openSells, order.ID)
}
