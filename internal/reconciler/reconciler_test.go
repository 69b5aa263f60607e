package reconciler

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizePositionsSkipsFlat(t *testing.T) {
	raw := []*futures.PositionRisk{
		{Symbol: "BTCUSDT", PositionAmt: "0", EntryPrice: "0"},
		{Symbol: "ETHUSDT", PositionAmt: "-2.5", EntryPrice: "2000", PositionSide: "BOTH"},
	}
	out := normalizePositions(raw)
	require.Len(t, out, 1)
	require.Equal(t, PositionKey{Symbol: "ETHUSDT", Side: Short}, out[0].Key)
	require.True(t, out[0].Amount.Equal(d("2.5")))
}

func TestStopAndTakeProfitPricesLong(t *testing.T) {
	pos := Position{Key: PositionKey{Side: Long}, EntryPrice: d("100")}
	sym := config.Symbol{StopLossPercent: d("2"), TakeProfitPercent: d("5")}
	require.True(t, stopPrice(pos, sym).Equal(d("98")))
	require.True(t, takeProfitPrice(pos, sym).Equal(d("105")))
}

func TestStopAndTakeProfitPricesShort(t *testing.T) {
	pos := Position{Key: PositionKey{Side: Short}, EntryPrice: d("100")}
	sym := config.Symbol{StopLossPercent: d("2"), TakeProfitPercent: d("5")}
	require.True(t, stopPrice(pos, sym).Equal(d("102")))
	require.True(t, takeProfitPrice(pos, sym).Equal(d("95")))
}

func TestCandidateOrdersFiltersBySideAndReduceOnly(t *testing.T) {
	pos := Position{Key: PositionKey{Symbol: "BTCUSDT", Side: Long}, RawSide: futures.PositionSideTypeBoth}
	orders := []*futures.Order{
		{Symbol: "BTCUSDT", Side: futures.SideTypeSell, ReduceOnly: true, Type: futures.OrderTypeStopMarket, PositionSide: futures.PositionSideTypeBoth},
		{Symbol: "BTCUSDT", Side: futures.SideTypeSell, ReduceOnly: true, Type: futures.OrderTypeTakeProfitMarket, PositionSide: futures.PositionSideTypeBoth},
		{Symbol: "BTCUSDT", Side: futures.SideTypeBuy, ReduceOnly: false, Type: futures.OrderTypeLimit, PositionSide: futures.PositionSideTypeBoth},
	}
	stops, tps := candidateOrders(pos, orders, false)
	require.Len(t, stops, 1)
	require.Len(t, tps, 1)
}

func TestProtectiveSideIsOpposite(t *testing.T) {
	require.Equal(t, futures.SideTypeSell, protectiveSide(Long))
	require.Equal(t, futures.SideTypeBuy, protectiveSide(Short))
}
