package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/exchange"
	"main/internal/model"
)

const (
	defaultBaseURL = "https://api.binance.com"

	codeUnknownOrder   = -2011
	codeOrderNotExist  = -2013
	codeInvalidSymbol  = -1121
	codeFilterFailure  = -1013
	codeNewOrderReject = -2010
)

// Option configures the REST delegator.
type Option struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Client    *http.Client
	// Ticker serves cached last prices from the market stream when set,
	// saving one REST round trip per step.
	Ticker *Ticker
}

// Delegator implements the trading surface against the Binance spot REST API.
// All order endpoints are HMAC-signed.
type Delegator struct {
	baseURL string
	key     string
	secret  []byte
	client  *http.Client
	ticker  *Ticker
}

var _ exchange.Exchange = (*Delegator)(nil)

func New(opt Option) *Delegator {
	baseURL := opt.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Delegator{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     opt.APIKey,
		secret:  []byte(opt.APISecret),
		client:  client,
		ticker:  opt.Ticker,
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type restOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
}

type restTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (d *Delegator) Price(ctx context.Context, symbol string) (model.Price, error) {
	if d.ticker != nil {
		if price, ok := d.ticker.Last(symbol); ok {
			return price, nil
		}
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	raw, err := d.do(ctx, http.MethodGet, "/api/v3/ticker/price", query, false)
	if err != nil {
		return 0, err
	}
	var tick restTicker
	if err := sonic.Unmarshal(raw, &tick); err != nil {
		return 0, errors.Wrap(err, "decode ticker").With("symbol", symbol)
	}
	return model.ParsePrice(tick.Price)
}

func (d *Delegator) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, price model.Price, qty model.Quantity) (exchange.Order, error) {
	if !side.IsAvailable() || price <= 0 || qty <= 0 {
		return exchange.Order{}, exchange.ErrInvalidArgument
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", side.String())
	query.Set("type", "LIMIT")
	query.Set("timeInForce", "GTC")
	query.Set("quantity", qty.String())
	query.Set("price", price.String())
	raw, err := d.do(ctx, http.MethodPost, "/api/v3/order", query, true)
	if err != nil {
		return exchange.Order{}, err
	}

	var resp restOrder
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return exchange.Order{}, errors.Wrap(err, "decode order response").With("symbol", symbol)
	}
	return convertOrder(resp)
}

func (d *Delegator) CancelOrder(ctx context.Context, symbol, orderID string) error {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)
	_, err := d.do(ctx, http.MethodDelete, "/api/v3/order", query, true)
	return err
}

func (d *Delegator) Order(ctx context.Context, symbol, orderID string) (exchange.Order, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", orderID)
	raw, err := d.do(ctx, http.MethodGet, "/api/v3/order", query, true)
	if err != nil {
		return exchange.Order{}, err
	}

	var resp restOrder
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return exchange.Order{}, errors.Wrap(err, "decode order").With("order_id", orderID)
	}
	return convertOrder(resp)
}

func (d *Delegator) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	raw, err := d.do(ctx, http.MethodGet, "/api/v3/openOrders", query, true)
	if err != nil {
		return nil, err
	}

	var resp []restOrder
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decode open orders").With("symbol", symbol)
	}
	out := make([]exchange.Order, 0, len(resp))
	for _, ro := range resp {
		order, err := convertOrder(ro)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

// do performs one REST call. Signed requests get a timestamp and an
// HMAC-SHA256 signature over the query string.
func (d *Delegator) do(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, d.secret)
		mac.Write([]byte(query.Encode()))
		query.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request").With("path", path)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", d.key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request").With("path", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response").With("path", path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, convertAPIError(raw, resp.StatusCode, path)
	}
	return raw, nil
}

func convertAPIError(raw []byte, status int, path string) error {
	var apiErr apiError
	if err := sonic.Unmarshal(raw, &apiErr); err != nil {
		return errors.Errorf("binance status %d on %s: %s", status, path, raw)
	}
	switch apiErr.Code {
	case codeUnknownOrder, codeOrderNotExist:
		return exchange.ErrOrderNotFound
	case codeInvalidSymbol:
		return exchange.ErrUnknownSymbol
	case codeFilterFailure, codeNewOrderReject:
		return errors.Wrap(exchange.ErrOrderRejected, apiErr.Msg)
	default:
		return errors.Errorf("binance error %d on %s: %s", apiErr.Code, path, apiErr.Msg)
	}
}

func convertOrder(ro restOrder) (exchange.Order, error) {
	price, err := model.ParsePrice(ro.Price)
	if err != nil {
		return exchange.Order{}, errors.Wrap(err, "parse price").With("order_id", ro.OrderID)
	}
	qty, err := model.ParseQuantity(ro.OrigQty)
	if err != nil {
		return exchange.Order{}, errors.Wrap(err, "parse quantity").With("order_id", ro.OrderID)
	}
	executed, err := model.ParseQuantity(ro.ExecutedQty)
	if err != nil {
		return exchange.Order{}, errors.Wrap(err, "parse executed quantity").With("order_id", ro.OrderID)
	}

	side := exchange.SideBuy
	if ro.Side == "SELL" {
		side = exchange.SideSell
	}
	return exchange.Order{
		ID:            strconv.FormatInt(ro.OrderID, 10),
		ClientOrderID: ro.ClientOrderID,
		Symbol:        ro.Symbol,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		ExecutedQty:   executed,
		Status:        parseStatus(ro.Status),
	}, nil
}

func parseStatus(s string) exchange.OrderStatus {
	switch s {
	case "NEW":
		return exchange.OrderStatusNew
	case "PARTIALLY_FILLED":
		return exchange.OrderStatusPartFilled
	case "FILLED":
		return exchange.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return exchange.OrderStatusCanceled
	case "REJECTED":
		return exchange.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return exchange.OrderStatusExpired
	default:
		return exchange.OrderStatusNew
	}
}
