package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validPaperConfig = `{
  "api": {"apiKey": "", "secretKey": ""},
  "global": {"paperMode": true, "riskPercent": 1, "positionMode": "one-way", "maxOpenPositions": 5, "useThresholdSystem": true},
  "symbols": {
    "BTCUSDT": {
      "longThresholdUsdt": "100000", "shortThresholdUsdt": "100000",
      "leverage": 10, "longTradeSizeUsdt": "50", "shortTradeSizeUsdt": "50",
      "maxMarginUsdt": "500", "stopLossPercent": "1", "takeProfitPercent": "3",
      "orderMode": "limit", "limitOffsetBps": "2", "maxSlippageBps": "10",
      "postOnly": false, "vwapProtection": true, "vwapBarSize": "1m", "vwapLookback": 100,
      "useThreshold": true, "thresholdWindowMs": 60000, "cooldownMs": 30000
    }
  }
}`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validPaperConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Global.PaperMode)
	require.Len(t, cfg.Symbols, 1)
	require.Equal(t, 10, cfg.Symbols["BTCUSDT"].Leverage)
}

func TestLoadRejectsLiveModeWithoutCredentials(t *testing.T) {
	path := writeTestConfig(t, `{"api":{},"global":{"paperMode":false,"maxOpenPositions":1,"positionMode":"one-way"},"symbols":{}}`)
	os.Unsetenv("BINANCE_API_KEY")
	os.Unsetenv("BINANCE_API_SECRET")
	_, err := Load(path)
	require.Error(t, err)
}

func TestStoreApplyDiff(t *testing.T) {
	path := writeTestConfig(t, validPaperConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	next := cfg.clone()
	delete(next.Symbols, "BTCUSDT")
	next.Symbols["ETHUSDT"] = Symbol{Leverage: 5, OrderMode: OrderModeMarket}

	d, err := store.Apply(next)
	require.NoError(t, err)
	require.Contains(t, d.AddedSymbols, "ETHUSDT")
	require.Contains(t, d.RemovedSymbols, "BTCUSDT")

	_, ok := store.Symbol("BTCUSDT")
	require.False(t, ok)
}
