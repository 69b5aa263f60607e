package hunter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExposureGuardRejectsOverConcurrentLimit(t *testing.T) {
	g := NewExposureGuard(1, d("100000"))
	require.True(t, g.CanEnter("BTCUSDT", d("1000"), time.Now()))
	g.Register("BTCUSDT", d("1000"))
	require.False(t, g.CanEnter("ETHUSDT", d("1000"), time.Now()))
}

func TestExposureGuardRejectsOverNotionalCapAndCoolsDown(t *testing.T) {
	g := NewExposureGuard(5, d("1000"))
	now := time.Now()
	require.False(t, g.CanEnter("BTCUSDT", d("2000"), now))
	require.False(t, g.CanEnter("BTCUSDT", d("500"), now.Add(5*time.Second)))
	require.True(t, g.CanEnter("BTCUSDT", d("500"), now.Add(31*time.Second)))
}

func TestExposureGuardReleaseFreesSlot(t *testing.T) {
	g := NewExposureGuard(1, d("100000"))
	g.Register("BTCUSDT", d("1000"))
	require.Equal(t, 1, g.OpenCount())
	g.Release("BTCUSDT")
	require.Equal(t, 0, g.OpenCount())
	require.True(t, g.CanEnter("ETHUSDT", d("1000"), time.Now()))
}
