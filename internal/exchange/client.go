// Package exchange wraps *futures.Client with the rate limiting, bounded
// backoff, and error classification the engine's propagation policy
// requires (SPEC_FULL.md §4.A, §7). It never reimplements request signing —
// adshao/go-binance/v2/futures already does HMAC-SHA256 over the canonical
// query string.
package exchange

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
)

// RequestDeadline is the hard per-call deadline from SPEC_FULL.md §5.
const RequestDeadline = 10 * time.Second

// API is the venue surface Hunter, the reconciler, the VWAP streamer, and
// the HTTP façade depend on. Extracted as an interface (mirroring
// money.Registry's own futuresClient interface) so tests can drive the
// scenarios in SPEC_FULL.md §8 against a fake instead of the real venue.
type API interface {
	ExchangeInfo(ctx context.Context) (*futures.ExchangeInfoResponse, error)
	MarkPrice(ctx context.Context, symbol string) (*futures.MarkPrice, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*futures.DepthResponse, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error)
	Positions(ctx context.Context) ([]*futures.PositionRisk, error)
	OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error)
	PlaceOrder(ctx context.Context, p OrderParams) (*futures.CreateOrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetPositionMode(ctx context.Context) (bool, error)
	SetPositionMode(ctx context.Context, hedge bool) error
	StartUserStream(ctx context.Context) (string, error)
	KeepAliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
	Income(ctx context.Context, symbol string, startTime, endTime int64) ([]*futures.IncomeHistory, error)
	Raw() *futures.Client
}

// Client is the signed-REST facility the rest of the engine depends on. It
// is shared across tasks; its only user-visible shared state is the rate
// limiter.
type Client struct {
	raw     *futures.Client
	limiter *rate.Limiter
	retries int
}

var _ API = (*Client)(nil)

// New constructs a Client. weightPerMinute sizes the token bucket to the
// venue's per-minute request-weight budget (§5 "rate-limited by a
// token-bucket sized to the venue's per-minute weight"); a Binance-Futures
// account is typically budgeted 2400 weight/minute, and most simple REST
// calls cost 1-5 weight, so a conservative default of 1200 requests/minute
// (20/s) leaves headroom for heavier calls like exchangeInfo.
func New(apiKey, secretKey string, testnet bool) *Client {
	futures.UseTestnet = testnet
	raw := futures.NewClient(apiKey, secretKey)
	return &Client{
		raw:     raw,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		retries: 3,
	}
}

// Raw exposes the underlying SDK client for operations not wrapped here
// (new venue endpoints, etc.) — callers should still route failures through
// xerrors.Classify.
func (c *Client) Raw() *futures.Client { return c.raw }

// do runs fn under the rate limiter with a bounded-exponential-backoff retry
// loop on Network and RateLimited kinds, and a hard per-call deadline.
func (c *Client) do(ctx context.Context, op, symbol string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 10 * time.Second, Factor: 2}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return xerrors.New(xerrors.KindNetwork, op, symbol, "rate limiter wait cancelled", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, RequestDeadline)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}

		classified := xerrors.Classify(op, symbol, err)
		lastErr = classified
		if !classified.Retryable() || attempt == c.retries {
			return classified
		}

		wait := b.Duration()
		log.Debug().Str("op", op).Str("symbol", symbol).Dur("backoff", wait).Int("attempt", attempt+1).Msg("retrying after classified retryable error")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return xerrors.New(xerrors.KindNetwork, op, symbol, "cancelled while backing off", ctx.Err())
		}
	}
	return lastErr
}

// ExchangeInfo returns the full venue symbol/filter set.
func (c *Client) ExchangeInfo(ctx context.Context) (*futures.ExchangeInfoResponse, error) {
	var out *futures.ExchangeInfoResponse
	err := c.do(ctx, "exchangeInfo", "", func(ctx context.Context) error {
		var e error
		out, e = c.raw.NewExchangeInfoService().Do(ctx)
		return e
	})
	return out, err
}

// MarkPrice returns the current mark price for symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (*futures.MarkPrice, error) {
	var out []*futures.MarkPrice
	err := c.do(ctx, "markPrice", symbol, func(ctx context.Context) error {
		var e error
		out, e = c.raw.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.KindSymbolUnknown, "markPrice", symbol, "no mark price returned", nil)
	}
	return out[0], nil
}

// OrderBook returns the top-of-book bids/asks at the requested depth.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*futures.DepthResponse, error) {
	var out *futures.DepthResponse
	err := c.do(ctx, "orderBook", symbol, func(ctx context.Context) error {
		var e error
		out, e = c.raw.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
		return e
	})
	return out, err
}

// Klines returns candles for symbol/interval/limit.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	var out []*futures.Kline
	err := c.do(ctx, "klines", symbol, func(ctx context.Context) error {
		var e error
		out, e = c.raw.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return e
	})
	return out, err
}

// Positions returns all non-flat-or-not venue positions.
func (c *Client) Positions(ctx context.Context) ([]*futures.PositionRisk, error) {
	var out []*futures.PositionRisk
	err := c.do(ctx, "positions", "", func(ctx context.Context) error {
		var e error
		out, e = c.raw.NewGetPositionRiskService().Do(ctx)
		return e
	})
	return out, err
}

// OpenOrders returns open orders, optionally filtered to one symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	var out []*futures.Order
	err := c.do(ctx, "openOrders", symbol, func(ctx context.Context) error {
		svc := c.raw.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		var e error
		out, e = svc.Do(ctx)
		return e
	})
	return out, err
}

// OrderParams is the subset of order-placement fields the engine needs.
type OrderParams struct {
	Symbol       string
	Side         futures.SideType
	PositionSide futures.PositionSideType
	Type         futures.OrderType
	Quantity     string
	Price        string
	StopPrice    string
	ReduceOnly   bool
	ClosePosition bool
	TimeInForce  futures.TimeInForceType
	NewClientOrderID string
}

// PlaceOrder submits an order and returns the venue's response.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (*futures.CreateOrderResponse, error) {
	var out *futures.CreateOrderResponse
	err := c.do(ctx, "placeOrder", p.Symbol, func(ctx context.Context) error {
		svc := c.raw.NewCreateOrderService().
			Symbol(p.Symbol).
			Side(p.Side).
			Type(p.Type)
		if p.PositionSide != "" {
			svc = svc.PositionSide(p.PositionSide)
		}
		if p.Quantity != "" {
			svc = svc.Quantity(p.Quantity)
		}
		if p.Price != "" {
			svc = svc.Price(p.Price)
		}
		if p.StopPrice != "" {
			svc = svc.StopPrice(p.StopPrice)
		}
		if p.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
		if p.ClosePosition {
			svc = svc.ClosePosition(true)
		}
		if p.TimeInForce != "" {
			svc = svc.TimeInForce(p.TimeInForce)
		}
		if p.NewClientOrderID != "" {
			svc = svc.NewClientOrderID(p.NewClientOrderID)
		}
		var e error
		out, e = svc.Do(ctx)
		return e
	})
	return out, err
}

// CancelOrder cancels a single order by venue id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return c.do(ctx, "cancelOrder", symbol, func(ctx context.Context) error {
		_, e := c.raw.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		return e
	})
}

// SetLeverage is idempotent; callers invoke it unconditionally before placement.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.do(ctx, "setLeverage", symbol, func(ctx context.Context) error {
		_, e := c.raw.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return e
	})
}

// GetPositionMode returns true if the account is in hedge (dual-side) mode.
func (c *Client) GetPositionMode(ctx context.Context) (bool, error) {
	var hedge bool
	err := c.do(ctx, "getPositionMode", "", func(ctx context.Context) error {
		res, e := c.raw.NewGetPositionModeService().Do(ctx)
		if e != nil {
			return e
		}
		hedge = res.DualSidePosition
		return nil
	})
	return hedge, err
}

// SetPositionMode sets hedge (dual-side) mode on or off.
func (c *Client) SetPositionMode(ctx context.Context, hedge bool) error {
	return c.do(ctx, "setPositionMode", "", func(ctx context.Context) error {
		return c.raw.NewChangePositionModeService().DualSide(hedge).Do(ctx)
	})
}

// StartUserStream creates a listen key for the user-data WebSocket.
func (c *Client) StartUserStream(ctx context.Context) (string, error) {
	var key string
	err := c.do(ctx, "listenKey.create", "", func(ctx context.Context) error {
		var e error
		key, e = c.raw.NewStartUserStreamService().Do(ctx)
		return e
	})
	return key, err
}

// KeepAliveUserStream renews a listen key's TTL.
func (c *Client) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	return c.do(ctx, "listenKey.keepAlive", "", func(ctx context.Context) error {
		return c.raw.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
	})
}

// CloseUserStream invalidates a listen key.
func (c *Client) CloseUserStream(ctx context.Context, listenKey string) error {
	return c.do(ctx, "listenKey.close", "", func(ctx context.Context) error {
		return c.raw.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
	})
}

// Income returns realized PnL / funding / commission entries within range.
func (c *Client) Income(ctx context.Context, symbol string, startTime, endTime int64) ([]*futures.IncomeHistory, error) {
	var out []*futures.IncomeHistory
	err := c.do(ctx, "income", symbol, func(ctx context.Context) error {
		svc := c.raw.NewGetIncomeHistoryService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		if startTime > 0 {
			svc = svc.StartTime(startTime)
		}
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}
		var e error
		out, e = svc.Do(ctx)
		return e
	})
	return out, err
}
