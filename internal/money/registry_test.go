package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSnapPriceDefaultsWithoutRefresh(t *testing.T) {
	r := New(nil)

	snapped := r.SnapPrice("BTCUSDT", dec("27123.45678"))
	require.True(t, snapped.Equal(dec("27123.4567")), "got %s", snapped)
}

func TestSnapQtyFloorsToStep(t *testing.T) {
	r := New(nil)
	r.lock()
	r.profiles["BTCUSDT"] = Profile{
		Symbol:            "BTCUSDT",
		TickSize:          dec("0.1"),
		StepSize:          dec("0.001"),
		MinNotional:       dec("5"),
		PricePrecision:    1,
		QuantityPrecision: 3,
	}
	r.unlock()

	got := r.SnapQty("BTCUSDT", dec("0.01049"))
	require.True(t, got.Equal(dec("0.010")), "got %s", got)
}

func TestMeetsMinNotional(t *testing.T) {
	r := New(nil)
	r.lock()
	r.profiles["BTCUSDT"] = Profile{TickSize: dec("0.1"), StepSize: dec("0.001"), MinNotional: dec("5")}
	r.unlock()

	require.True(t, r.MeetsMinNotional("BTCUSDT", dec("100"), dec("0.1")))
	require.False(t, r.MeetsMinNotional("BTCUSDT", dec("1"), dec("0.001")))
}

func TestUnknownSymbolUsesConservativeDefaults(t *testing.T) {
	r := New(nil)
	p := r.Profile("NEWLISTUSDT")
	require.True(t, p.TickSize.Equal(dec("0.0001")))
	require.True(t, p.StepSize.Equal(dec("0.001")))
	require.True(t, p.MinNotional.Equal(dec("5")))
}
