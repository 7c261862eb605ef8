package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/model"
)

const arbMaxPriceFailures = 3

// Arbitrage watches the spread between two symbols and trades both legs when
// it exceeds a configured threshold: buy the cheaper, sell the dearer.
type Arbitrage struct {
	env Env

	symbolA   string
	symbolB   string
	threshold float64
	orderUSD  float64
	interval  time.Duration
	maxTrades int

	trades        int
	priceFailures int

	diagMu     sync.Mutex
	signalSeen uint64
}

// NewArbitrage creates an unconfigured arbitrage strategy.
func NewArbitrage(env Env) *Arbitrage {
	return &Arbitrage{
		env:      env,
		interval: 10 * time.Second,
	}
}

// Configure validates the arbitrage parameters.
func (a *Arbitrage) Configure(cfg map[string]any) error {
	symbolA, err := requireString(cfg, "symbol_a")
	if err != nil {
		return err
	}
	symbolB, err := requireString(cfg, "symbol_b")
	if err != nil {
		return err
	}
	threshold, err := requireFloat(cfg, "spread_threshold_pct")
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
	maxTrades, err := optionalFloat(cfg, "max_trades", 0)
	if err != nil {
		return err
	}

	if symbolA == symbolB {
		return configErrorf("symbol_a and symbol_b must differ, got %s", symbolA)
	}
	if threshold <= 0 {
		return configErrorf("spread_threshold_pct must be positive, got %v", threshold)
	}
	if orderUSD <= 0 {
		return configErrorf("order_amount_usd must be positive, got %v", orderUSD)
	}
	if maxTrades < 0 {
		return configErrorf("max_trades must not be negative")
	}

	a.symbolA = symbolA
	a.symbolB = symbolB
	a.threshold = threshold
	a.orderUSD = orderUSD
	a.interval = interval
	a.maxTrades = int(maxTrades)
	return nil
}

// Step compares the two legs and trades the spread when wide enough.
// Transient price-feed failures are tolerated up to arbMaxPriceFailures
// consecutive steps before the fault becomes terminal.
func (a *Arbitrage) Step(ctx context.Context) (StepOutcome, error) {
	priceA, err := a.env.Exchange.Price(ctx, a.symbolA)
	if err != nil {
		return a.tolerate(err)
	}
	priceB, err := a.env.Exchange.Price(ctx, a.symbolB)
	if err != nil {
		return a.tolerate(err)
	}
	a.priceFailures = 0

	spread := spreadPct(priceA, priceB)
	if spread < a.threshold {
		return StepContinue, nil
	}

	cheap, dear := a.symbolA, a.symbolB
	cheapPrice, dearPrice := priceA, priceB
	if priceB < priceA {
		cheap, dear = a.symbolB, a.symbolA
		cheapPrice, dearPrice = priceB, priceA
	}

	logs.Infof("arbitrage %s: spread %.4f%% between %s and %s, trading",
		a.env.AgentName, spread, a.symbolA, a.symbolB)

	buyQty := model.QuantityFromFloat(a.orderUSD / cheapPrice.Float())
	sellQty := model.QuantityFromFloat(a.orderUSD / dearPrice.Float())

	buy, err := a.env.Exchange.PlaceLimitOrder(ctx, cheap, exchange.SideBuy, cheapPrice, buyQty)
	if err != nil {
		return StepContinue, err
	}
	sell, err := a.env.Exchange.PlaceLimitOrder(ctx, dear, exchange.SideSell, dearPrice, sellQty)
	if err != nil {
		return StepContinue, err
	}

	pnl := (dearPrice.Float() - cheapPrice.Float()) * buyQty.Float()
	a.recordLeg(ctx, buy, nil)
	a.recordLeg(ctx, sell, &pnl)
	a.trades++

	if a.env.Publisher != nil {
		_ = a.env.Publisher.PublishJSON(bus.ChannelAgentEvents, map[string]any{
			"agent_id":   a.env.AgentID.String(),
			"event":      "arbitrage",
			"buy":        cheap,
			"sell":       dear,
			"spread_pct": spread,
		})
	}

	if a.maxTrades > 0 && a.trades >= a.maxTrades {
		logs.Infof("arbitrage %s completed %d trades, halting", a.env.AgentName, a.trades)
		return StepHalt, nil
	}
	return StepContinue, nil
}

func (a *Arbitrage) tolerate(err error) (StepOutcome, error) {
	a.priceFailures++
	if a.priceFailures >= arbMaxPriceFailures {
		return StepContinue, fmt.Errorf("failed to get prices after %d attempts: %w", a.priceFailures, err)
	}
	logs.Warnf("arbitrage %s price fetch failed (%d/%d): %v", a.env.AgentName, a.priceFailures, arbMaxPriceFailures, err)
	return StepContinue, nil
}

// OnMessage records the signal for diagnostics only.
func (a *Arbitrage) OnMessage(msg bus.Message) {
	a.diagMu.Lock()
	a.signalSeen++
	a.diagMu.Unlock()
	logs.Infof("arbitrage %s observed signal on %s", a.env.AgentName, msg.Channel)
}

// Interval returns the configured step cadence.
func (a *Arbitrage) Interval() time.Duration {
	return a.interval
}

func (a *Arbitrage) recordLeg(ctx context.Context, order exchange.Order, pnl *float64) {
	if a.env.Recorder == nil {
		return
	}
	trade := &model.Trade{
		AgentID:       a.env.AgentID,
		Symbol:        order.Symbol,
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		Side:          order.Side.String(),
		Price:         order.Price.Float(),
		Quantity:      order.Quantity.Float(),
		QuoteQuantity: order.Price.Float() * order.Quantity.Float(),
		PnLUSD:        pnl,
	}
	if err := a.env.Recorder.RecordTrade(ctx, trade); err != nil {
		logs.Errorf("arbitrage %s: record trade %s failed: %v", a.env.AgentName, order.ID, err)
	}
}

func spreadPct(a, b model.Price) float64 {
	lo, hi := a.Float(), b.Float()
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo <= 0 {
		return 0
	}
	return (hi - lo) / lo * 100
}
