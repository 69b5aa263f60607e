package reconciler

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/require"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/money"
)

// S5 — Protective reconcile after restart: an open position with no
// protective orders gets exactly one reduce-only stop-loss and one
// reduce-only take-profit within a single Reconcile pass.
func TestScenarioProtectiveReconcileAfterRestart(t *testing.T) {
	fx := &fakeExchange{
		positions: []*futures.PositionRisk{
			{Symbol: "BTCUSDT", PositionAmt: "0.010", EntryPrice: "50000", PositionSide: "BOTH"},
		},
	}
	store := config.NewStore(&config.Config{
		Global: config.Global{MaxOpenPositions: 5, PositionMode: config.PositionModeOneWay},
		Symbols: map[string]config.Symbol{
			"BTCUSDT": {StopLossPercent: d("2"), TakeProfitPercent: d("5"), OrderMode: config.OrderModeLimit},
		},
	})
	reg := money.New(nil)
	r := New(fx, reg, store)

	r.Reconcile(context.Background())

	orders := fx.orders()
	require.Len(t, orders, 2)

	var sawStop, sawTP bool
	for _, o := range orders {
		require.Equal(t, "BTCUSDT", o.Symbol)
		require.Equal(t, futures.SideTypeSell, o.Side)
		require.True(t, o.ReduceOnly)
		require.True(t, d(o.Quantity).Equal(d("0.010")))

		switch o.Type {
		case futures.OrderTypeStopMarket:
			sawStop = true
			require.True(t, d(o.StopPrice).Equal(d("49000")))
		case futures.OrderTypeTakeProfit:
			sawTP = true
			require.True(t, d(o.Price).Equal(d("52500")))
		default:
			t.Fatalf("unexpected order type %v", o.Type)
		}
	}
	require.True(t, sawStop, "expected a reduce-only STOP_MARKET sell")
	require.True(t, sawTP, "expected a reduce-only take-profit sell")
}

// S6 — Orphan reaper: a reduce-only protective order with no matching
// position is cancelled within one Reconcile pass, with no new placements.
func TestScenarioOrphanReaperCancelsUnmatchedProtectiveOrder(t *testing.T) {
	fx := &fakeExchange{
		openOrders: []*futures.Order{
			{Symbol: "BTCUSDT", Side: futures.SideTypeSell, ReduceOnly: true, Type: futures.OrderTypeStopMarket, OrderID: 777, PositionSide: futures.PositionSideTypeBoth},
		},
	}
	store := config.NewStore(&config.Config{
		Global:  config.Global{MaxOpenPositions: 5, PositionMode: config.PositionModeOneWay},
		Symbols: map[string]config.Symbol{"BTCUSDT": {StopLossPercent: d("2"), TakeProfitPercent: d("5"), OrderMode: config.OrderModeMarket}},
	})
	reg := money.New(nil)
	r := New(fx, reg, store)

	r.Reconcile(context.Background())

	require.Empty(t, fx.orders())
	require.Equal(t, []int64{777}, fx.cancelledIDs())
}
