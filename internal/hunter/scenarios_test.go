package hunter

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/liquidation"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/money"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/vwap"
)

func newTestHunter(t *testing.T, symbol string, sym config.Symbol, fx *fakeExchange) *Hunter {
	t.Helper()
	store := config.NewStore(&config.Config{
		Global:  config.Global{MaxOpenPositions: 5, PositionMode: config.PositionModeOneWay},
		Symbols: map[string]config.Symbol{symbol: sym},
	})
	reg := money.New(nil)
	streamer := vwap.New(fx)
	monitor := liquidation.NewMonitor()
	guard := NewExposureGuard(5, d("5000000"))
	noMargin := func(string) decimal.Decimal { return decimal.Zero }
	return New(store, fx, reg, streamer, monitor, guard, false, noMargin)
}

// S3 — VWAP block: a SELL liquidation (a long opportunity) priced above the
// VWAP (here the REST fallback over the fake klines, 3000) must be rejected by the VWAP gate with no order placed.
func TestScenarioVWAPBlocksLongAboveVWAP(t *testing.T) {
	fx := newFakeExchange()
	fx.markPrice["ETHUSDT"] = "3010"
	fx.klines = []*futures.Kline{{High: "3000", Low: "3000", Close: "3000", Volume: "1"}}

	sym := config.Symbol{
		UseThreshold:      false,
		LongThresholdUSDT: d("10000"),
		Leverage:          1,
		LongTradeSizeUSDT: d("100"),
		OrderMode:         config.OrderModeMarket,
		VWAPProtection:    true,
		VWAPBarSize:       "5m",
		VWAPLookback:      10,
	}
	h := newTestHunter(t, "ETHUSDT", sym, fx)

	var decisions []Decision
	h.OnDecision(func(dec Decision) { decisions = append(decisions, dec) })

	ev := liquidation.Event{Symbol: "ETHUSDT", Side: liquidation.SideSell, Price: d("3010"), VolumeUSDT: d("15000")}
	got := h.HandleInstantEvent(context.Background(), ev)

	require.True(t, got.Blocked)
	require.Contains(t, got.BlockReason, "vwap")
	require.Empty(t, fx.orders())
	require.Len(t, decisions, 1)
	require.True(t, decisions[0].Blocked)
}

// S4 — Notional recovery: a sized-up order (tradeSize*leverage below the
// venue's minimum notional) is bumped to minNotional*1.01 and placed; a
// venue-side notional rejection is not retried.
func TestScenarioNotionalRecoveryAdjustsUpAndPlaces(t *testing.T) {
	fx := newFakeExchange()
	fx.markPrice["BTCUSDT"] = "10"

	sym := config.Symbol{
		UseThreshold:      false,
		LongThresholdUSDT: d("100"),
		Leverage:          2,
		LongTradeSizeUSDT: d("0.5"),
		OrderMode:         config.OrderModeMarket,
	}
	h := newTestHunter(t, "BTCUSDT", sym, fx)

	ev := liquidation.Event{Symbol: "BTCUSDT", Side: liquidation.SideSell, Price: d("10"), VolumeUSDT: d("1000")}
	got := h.HandleInstantEvent(context.Background(), ev)

	require.True(t, got.Admitted)
	orders := fx.orders()
	require.Len(t, orders, 1)
	require.Equal(t, futures.SideTypeBuy, orders[0].Side)
	require.True(t, d(orders[0].Quantity).Mul(d("10")).GreaterThanOrEqual(d("5")))
}

func TestScenarioNotionalRejectionIsNotRetried(t *testing.T) {
	fx := newFakeExchange()
	fx.markPrice["BTCUSDT"] = "10"
	fx.book = &futures.DepthResponse{
		Bids: []futures.Bid{{Price: "9.99", Quantity: "10"}},
		Asks: []futures.Ask{{Price: "10.01", Quantity: "10"}},
	}
	fx.placeErr = &futures.APIError{Code: -4131, Message: "Notional would be less than minNotional"}

	sym := config.Symbol{
		UseThreshold:      false,
		LongThresholdUSDT: d("100"),
		Leverage:          2,
		LongTradeSizeUSDT: d("0.5"),
		OrderMode:         config.OrderModeLimit,
		MaxSlippageBps:    d("50"),
	}
	h := newTestHunter(t, "BTCUSDT", sym, fx)

	ev := liquidation.Event{Symbol: "BTCUSDT", Side: liquidation.SideSell, Price: d("10"), VolumeUSDT: d("1000")}
	got := h.HandleInstantEvent(context.Background(), ev)

	require.True(t, got.Blocked)
	require.NotNil(t, got.Err)
	require.Len(t, fx.orders(), 1) // no market-fallback retry on a Notional rejection
}
