package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
)

const defaultWsURL = "wss://data-stream.binance.vision/ws"

// Ticker maintains a last-price cache fed by the miniTicker stream, so
// strategy steps read market data without a REST round trip.
type Ticker struct {
	wss *ws.WebSocket

	mu   sync.RWMutex
	last map[string]model.Price
}

func NewTicker(ctx context.Context, wsURL string) *Ticker {
	if wsURL == "" {
		wsURL = defaultWsURL
	}
	return &Ticker{
		wss:  ws.New(ctx, wsURL),
		last: make(map[string]model.Price),
	}
}

func (t *Ticker) Start(ctx context.Context) error {
	if err := t.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (t *Ticker) Close() {
	t.wss.Close()
}

type tickerSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type tickerSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type miniTicker struct {
	EventType string          `json:"e"`
	Symbol    string          `json:"s"`
	Close     decimal.Decimal `json:"c"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
}

// Subscribe attaches the miniTicker stream for symbol and starts feeding the
// cache.
func (t *Ticker) Subscribe(ctx context.Context, symbol string) error {
	appendIntoRegister := true
	if err := t.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := tickerSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol)),
				},
				ID: 1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp tickerSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	t.observe(ctx)
	return nil
}

func (t *Ticker) observe(ctx context.Context) {
	ch, cancel := t.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				tick, ok := ws.ReadMessage[miniTicker](m)
				if !ok || tick.EventType != "24hrMiniTicker" {
					continue
				}

				price, err := model.ParsePrice(tick.Close.String())
				if err != nil {
					logs.Warnf("parse miniTicker price %s: %v", tick.Close, err)
					continue
				}

				t.mu.Lock()
				t.last[tick.Symbol] = price
				t.mu.Unlock()
			}
		}
	}()
}

// Last returns the cached last price for symbol.
func (t *Ticker) Last(symbol string) (model.Price, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	price, ok := t.last[symbol]
	return price, ok
}
