package hunter

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWithinProximityBuyWithinOnePercentBand(t *testing.T) {
	require.True(t, withinProximity(futures.SideTypeBuy, d("100"), d("100.5")))
	require.False(t, withinProximity(futures.SideTypeBuy, d("100"), d("95"))) // outside 1% band
}

func TestWithinProximitySellWithinOnePercentBand(t *testing.T) {
	require.True(t, withinProximity(futures.SideTypeSell, d("100.5"), d("100")))
	require.False(t, withinProximity(futures.SideTypeSell, d("105"), d("100")))
}

func TestVWAPAllowsBuyOnlyBelow(t *testing.T) {
	require.True(t, vwapAllows(futures.SideTypeBuy, d("99"), d("100")))
	require.False(t, vwapAllows(futures.SideTypeBuy, d("101"), d("100")))
	require.False(t, vwapAllows(futures.SideTypeBuy, d("100"), d("100"))) // strictly below required
}

func TestVWAPAllowsSellOnlyAbove(t *testing.T) {
	require.True(t, vwapAllows(futures.SideTypeSell, d("101"), d("100")))
	require.False(t, vwapAllows(futures.SideTypeSell, d("99"), d("100")))
}
