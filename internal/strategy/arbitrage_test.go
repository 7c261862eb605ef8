package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func arbitrageConfig() map[string]any {
	return map[string]any{
		"symbol_a":             "ETHUSDT",
		"symbol_b":             "ETHUSDC",
		"spread_threshold_pct": 1.0,
		"order_amount_usd":     100.0,
	}
}

func newTestArbitrage(t *testing.T, ex *fakeExchange, cfg map[string]any) (*Arbitrage, *fakeRecorder, *fakePublisher) {
	t.Helper()
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	a := NewArbitrage(Env{
		AgentID:   uuid.New(),
		AgentName: "arb-test",
		Exchange:  ex,
		Recorder:  rec,
		Publisher: pub,
	})
	if err := a.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return a, rec, pub
}

func TestArbitrageConfigureRejectsSameSymbol(t *testing.T) {
	cfg := arbitrageConfig()
	cfg["symbol_b"] = cfg["symbol_a"]

	a := NewArbitrage(Env{})
	if err := a.Configure(cfg); !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestArbitrageConfigureRejectsZeroThreshold(t *testing.T) {
	cfg := arbitrageConfig()
	cfg["spread_threshold_pct"] = 0.0

	a := NewArbitrage(Env{})
	if err := a.Configure(cfg); !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestArbitrageSkipsNarrowSpread(t *testing.T) {
	ex := newFakeExchange()
	ex.setPrice("ETHUSDT", 100)
	ex.setPrice("ETHUSDC", 100.5)
	a, rec, _ := newTestArbitrage(t, ex, arbitrageConfig())

	outcome, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if outcome != StepContinue {
		t.Fatalf("expected continue, got %v", outcome)
	}
	if ex.orderCount() != 0 || rec.count() != 0 {
		t.Fatalf("narrow spread must not trade")
	}
}

func TestArbitrageToleratesTransientPriceFailures(t *testing.T) {
	ex := newFakeExchange()
	ex.priceErr = errors.New("venue down")
	a, _, _ := newTestArbitrage(t, ex, arbitrageConfig())

	ctx := context.Background()
	for i := 0; i < arbMaxPriceFailures-1; i++ {
		if _, err := a.Step(ctx); err != nil {
			t.Fatalf("step %d should tolerate price failure, got %v", i+1, err)
		}
	}

	// A successful fetch resets the failure streak.
	ex.priceErr = nil
	ex.setPrice("ETHUSDT", 100)
	ex.setPrice("ETHUSDC", 100.5)
	if _, err := a.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}

	ex.priceErr = errors.New("venue down")
	for i := 0; i < arbMaxPriceFailures-1; i++ {
		if _, err := a.Step(ctx); err != nil {
			t.Fatalf("step %d should tolerate price failure, got %v", i+1, err)
		}
	}
	if _, err := a.Step(ctx); err == nil {
		t.Fatalf("expected fault after %d consecutive price failures", arbMaxPriceFailures)
	}
}

func TestArbitrageTradesWideSpread(t *testing.T) {
	ex := newFakeExchange()
	ex.setPrice("ETHUSDT", 100)
	ex.setPrice("ETHUSDC", 103)
	a, rec, pub := newTestArbitrage(t, ex, arbitrageConfig())

	if _, err := a.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}

	if ex.orderCount() != 2 {
		t.Fatalf("expected both legs placed, got %d orders", ex.orderCount())
	}
	if rec.count() != 2 {
		t.Fatalf("expected both legs recorded, got %d", rec.count())
	}

	var withPnl int
	for _, trade := range rec.trades {
		if trade.PnLUSD != nil {
			withPnl++
			if *trade.PnLUSD <= 0 {
				t.Fatalf("sell leg pnl should be positive, got %v", *trade.PnLUSD)
			}
		}
	}
	if withPnl != 1 {
		t.Fatalf("exactly the sell leg carries pnl, got %d", withPnl)
	}

	if len(pub.events) != 1 || pub.events[0]["event"] != "arbitrage" {
		t.Fatalf("expected one arbitrage event, got %+v", pub.events)
	}
	if pub.events[0]["buy"] != "ETHUSDT" || pub.events[0]["sell"] != "ETHUSDC" {
		t.Fatalf("should buy cheap and sell dear, got %+v", pub.events[0])
	}
}

func TestArbitrageHaltsAtMaxTrades(t *testing.T) {
	cfg := arbitrageConfig()
	cfg["max_trades"] = 1.0
	ex := newFakeExchange()
	ex.setPrice("ETHUSDT", 100)
	ex.setPrice("ETHUSDC", 103)
	a, _, _ := newTestArbitrage(t, ex, cfg)

	outcome, err := a.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if outcome != StepHalt {
		t.Fatalf("expected halt at max trades, got %v", outcome)
	}
}
