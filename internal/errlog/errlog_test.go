package errlog

import (
	"context"
	"testing"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
	"github.com/stretchr/testify/require"
)

func TestDuplicateWithinWindowCollapses(t *testing.T) {
	sink := NewRingSink(10)
	ctx := context.Background()

	rec := Record{ErrorType: xerrors.KindNetwork, Component: "exchange", Symbol: "BTCUSDT", Message: "timeout"}
	require.NoError(t, sink.Record(ctx, rec))
	require.NoError(t, sink.Record(ctx, rec))
	require.NoError(t, sink.Record(ctx, rec))

	recent := sink.Recent(10)
	require.Len(t, recent, 1)
	require.Equal(t, 3, recent[0].occurrences)
}

func TestDistinctSymbolsNotCollapsed(t *testing.T) {
	sink := NewRingSink(10)
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, Record{ErrorType: xerrors.KindNetwork, Component: "exchange", Symbol: "BTCUSDT", Message: "timeout"}))
	require.NoError(t, sink.Record(ctx, Record{ErrorType: xerrors.KindNetwork, Component: "exchange", Symbol: "ETHUSDT", Message: "timeout"}))

	require.Len(t, sink.Recent(10), 2)
}

func TestClearRemovesAll(t *testing.T) {
	sink := NewRingSink(10)
	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, Record{Message: "x"}))
	sink.Clear()
	require.Empty(t, sink.Recent(10))
}

func TestCapacityBounds(t *testing.T) {
	sink := NewRingSink(3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, sink.Record(ctx, Record{Message: "distinct", Symbol: string(rune('A' + i))}))
	}
	require.Len(t, sink.Recent(100), 3)
}
