package hunter

import (
	"context"
	"sync"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
)

// fakeExchange is a minimal in-memory stand-in for exchange.API, driven by
// tests that exercise the full gate chain (evaluate/admit/price/size/place)
// against canned venue responses instead of a live signed REST client.
type fakeExchange struct {
	mu sync.Mutex

	markPrice map[string]string
	book      *futures.DepthResponse
	klines    []*futures.Kline

	placeErr     error
	placedOrders []exchange.OrderParams
	nextOrderID  int64
}

var _ exchange.API = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{markPrice: make(map[string]string)}
}

func (f *fakeExchange) ExchangeInfo(ctx context.Context) (*futures.ExchangeInfoResponse, error) {
	return &futures.ExchangeInfoResponse{}, nil
}

func (f *fakeExchange) MarkPrice(ctx context.Context, symbol string) (*futures.MarkPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &futures.MarkPrice{Symbol: symbol, MarkPrice: f.markPrice[symbol]}, nil
}

func (f *fakeExchange) OrderBook(ctx context.Context, symbol string, limit int) (*futures.DepthResponse, error) {
	if f.book == nil {
		return &futures.DepthResponse{}, nil
	}
	return f.book, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	return f.klines, nil
}

func (f *fakeExchange) Positions(ctx context.Context) ([]*futures.PositionRisk, error) { return nil, nil }

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, p exchange.OrderParams) (*futures.CreateOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placedOrders = append(f.placedOrders, p)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.nextOrderID++
	return &futures.CreateOrderResponse{Symbol: p.Symbol, OrderID: f.nextOrderID}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error { return nil }

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
