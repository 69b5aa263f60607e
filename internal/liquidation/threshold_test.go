package liquidation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sellEvent(symbol string, volumeUSDT float64, at time.Time) Event {
	price := decimal.NewFromInt(1)
	qty := decimal.NewFromFloat(volumeUSDT)
	return Event{Symbol: symbol, Side: SideSell, Price: price, FilledQty: qty, VolumeUSDT: qty.Mul(price), EventTime: at}
}

// TestS1CumulativeLongTrigger mirrors SPEC_FULL.md §8 scenario S1.
func TestS1CumulativeLongTrigger(t *testing.T) {
	m := NewMonitor()
	base := time.Unix(1_700_000_000, 0)
	m.Configure("BTCUSDT", decimal.NewFromInt(100000), decimal.NewFromInt(100000), 60*time.Second, 30*time.Second)

	u1, ok := m.Ingest(sellEvent("BTCUSDT", 40000, base), base)
	require.True(t, ok)
	require.False(t, u1.WillTriggerLong)

	u2, _ := m.Ingest(sellEvent("BTCUSDT", 30000, base.Add(10*time.Second)), base.Add(10*time.Second))
	require.False(t, u2.WillTriggerLong)

	u3, _ := m.Ingest(sellEvent("BTCUSDT", 40000, base.Add(20*time.Second)), base.Add(20*time.Second))
	require.True(t, u3.WillTriggerLong)
	require.True(t, u3.RecentLong.Equal(decimal.NewFromInt(110000)))
}

// TestS2CooldownSuppression mirrors SPEC_FULL.md §8 scenario S2.
func TestS2CooldownSuppression(t *testing.T) {
	m := NewMonitor()
	base := time.Unix(1_700_000_000, 0)
	m.Configure("BTCUSDT", decimal.NewFromInt(100000), decimal.NewFromInt(100000), 60*time.Second, 30*time.Second)

	m.Ingest(sellEvent("BTCUSDT", 40000, base), base)
	m.Ingest(sellEvent("BTCUSDT", 30000, base.Add(10*time.Second)), base.Add(10*time.Second))
	u3, _ := m.Ingest(sellEvent("BTCUSDT", 40000, base.Add(20*time.Second)), base.Add(20*time.Second))
	require.True(t, u3.WillTriggerLong)

	u4, _ := m.Ingest(sellEvent("BTCUSDT", 60000, base.Add(25*time.Second)), base.Add(25*time.Second))
	require.True(t, u4.RecentLong.GreaterThanOrEqual(decimal.NewFromInt(100000)), "threshold should still read as met")
	require.False(t, u4.WillTriggerLong, "cooldown of 30s has not elapsed since the 20s trigger")
}

func TestDecayToZeroAfterWindow(t *testing.T) {
	m := NewMonitor()
	base := time.Unix(1_700_000_000, 0)
	m.Configure("ETHUSDT", decimal.NewFromInt(10000), decimal.NewFromInt(10000), 60*time.Second, 10*time.Second)

	m.Ingest(sellEvent("ETHUSDT", 5000, base), base)
	require.True(t, m.RecentVolume("ETHUSDT", "long").Equal(decimal.NewFromInt(5000)))

	m.Housekeep(base.Add(61 * time.Second))
	require.True(t, m.RecentVolume("ETHUSDT", "long").IsZero())
}

func TestMonotoneSequenceTriggersExactlyOnceAtCrossing(t *testing.T) {
	m := NewMonitor()
	base := time.Unix(1_700_000_000, 0)
	m.Configure("BTCUSDT", decimal.NewFromInt(90), decimal.NewFromInt(90), 1000*time.Second, 0)

	triggers := 0
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i*10) * time.Second)
		u, _ := m.Ingest(sellEvent("BTCUSDT", 18, at), at)
		if u.WillTriggerLong {
			triggers++
		}
	}
	require.Equal(t, 1, triggers)
}

func TestUnconfiguredSymbolIgnored(t *testing.T) {
	m := NewMonitor()
	_, ok := m.Ingest(sellEvent("DOGEUSDT", 1, time.Now()), time.Now())
	require.False(t, ok)
}
