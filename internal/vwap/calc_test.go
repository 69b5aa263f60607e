package vwap

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestVWAPFromKlinesSingleBar(t *testing.T) {
	k := &futures.Kline{High: "110", Low: "90", Close: "100", Volume: "10"}
	v, err := VWAPFromKlines([]*futures.Kline{k})
	require.NoError(t, err)
	// typical = (110+90+100)/3 = 100
	require.True(t, v.Equal(decimal.NewFromInt(100)))
}

func TestVWAPFromKlinesWeightsByVolume(t *testing.T) {
	klines := []*futures.Kline{
		{High: "100", Low: "100", Close: "100", Volume: "1"},
		{High: "200", Low: "200", Close: "200", Volume: "3"},
	}
	v, err := VWAPFromKlines(klines)
	require.NoError(t, err)
	// (100*1 + 200*3) / 4 = 175
	require.True(t, v.Equal(decimal.NewFromInt(175)), "got %s", v)
}

func TestVWAPFromKlinesEmptyErrors(t *testing.T) {
	_, err := VWAPFromKlines(nil)
	require.Error(t, err)
}

func TestRelationAboveBelow(t *testing.T) {
	require.Equal(t, PositionBelow, Relation(decimal.NewFromInt(99), decimal.NewFromInt(100)))
	require.Equal(t, PositionAbove, Relation(decimal.NewFromInt(101), decimal.NewFromInt(100)))
}
