package reconciler

import (
	"context"
	"sync"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
)

// fakeExchange is a minimal in-memory stand-in for exchange.API, letting
// tests drive Reconcile against a scripted venue snapshot instead of a live
// signed REST client.
type fakeExchange struct {
	mu sync.Mutex

	positions []*futures.PositionRisk
	openOrders []*futures.Order

	placedOrders []exchange.OrderParams
	cancelled    []int64
	nextOrderID  int64
}

var _ exchange.API = (*fakeExchange)(nil)

func (f *fakeExchange) ExchangeInfo(ctx context.Context) (*futures.ExchangeInfoResponse, error) {
	return &futures.ExchangeInfoResponse{}, nil
}

func (f *fakeExchange) MarkPrice(ctx context.Context, symbol string) (*futures.MarkPrice, error) {
	return &futures.MarkPrice{Symbol: symbol}, nil
}

func (f *fakeExchange) OrderBook(ctx context.Context, symbol string, limit int) (*futures.DepthResponse, error) {
	return &futures.DepthResponse{}, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	return nil, nil
}

func (f *fakeExchange) Positions(ctx context.Context) ([]*futures.PositionRisk, error) {
	return f.positions, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	return f.openOrders, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, p exchange.OrderParams) (*futures.CreateOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placedOrders = append(f.placedOrders, p)
	f.nextOrderID++
	return &futures.CreateOrderResponse{Symbol: p.Symbol, OrderID: f.nextOrderID}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (f *fakeExchange) GetPositionMode(ctx context.Context) (bool, error) { return false, nil }

func (f *fakeExchange) SetPositionMode(ctx context.Context, hedge bool) error { return nil }

func (f *fakeExchange) StartUserStream(ctx context.Context) (string, error) { return "fake-listen-key", nil }

func (f *fakeExchange) KeepAliveUserStream(ctx context.Context, listenKey string) error { return nil }

func (f *fakeExchange) CloseUserStream(ctx context.Context, listenKey string) error { return nil }

func (f *fakeExchange) Income(ctx context.Context, symbol string, startTime, endTime int64) ([]*futures.IncomeHistory, error) {
	return nil, nil
}

func (f *fakeExchange) Raw() *futures.Client { return nil }

func (f *fakeExchange) orders() []exchange.OrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.OrderParams, len(f.placedOrders))
	copy(out, f.placedOrders)
	return out
}

func (f *fakeExchange) cancelledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}
