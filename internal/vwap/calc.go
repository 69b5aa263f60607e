package vwap

import (
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// VWAPFromKlines computes VWAP = Σ(typicalPrice × volume) / Σvolume over a
// set of klines, where typicalPrice = (high+low+close)/3, per §4.G.
func VWAPFromKlines(klines []*futures.Kline) (decimal.Decimal, error) {
	if len(klines) == 0 {
		return decimal.Zero, errNoKlines
	}

	numerator := decimal.Zero
	denominator := decimal.Zero

	for _, k := range klines {
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return decimal.Zero, fmt.Errorf("vwap: bad high %q: %w", k.High, err)
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return decimal.Zero, fmt.Errorf("vwap: bad low %q: %w", k.Low, err)
		}
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			return decimal.Zero, fmt.Errorf("vwap: bad close %q: %w", k.Close, err)
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return decimal.Zero, fmt.Errorf("vwap: bad volume %q: %w", k.Volume, err)
		}

		typical := high.Add(low).Add(closePrice).Div(decimal.NewFromInt(3))
		numerator = numerator.Add(typical.Mul(volume))
		denominator = denominator.Add(volume)
	}

	if denominator.IsZero() {
		return decimal.Zero, fmt.Errorf("vwap: zero total volume")
	}
	return numerator.Div(denominator), nil
}
