// Package liquidation implements the force-order ingest WebSocket (§4.C)
// and the per-(symbol,side) cumulative-volume threshold monitor (§4.D).
package liquidation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a force-liquidation order. A SELL
// liquidation closed longs (a long opportunity for the contrarian Hunter);
// a BUY liquidation closed shorts (a short opportunity).
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Event is the normalized, immutable liquidation record published to
// subscribers, per SPEC_FULL.md §3.
type Event struct {
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	FilledQty  decimal.Decimal
	VolumeUSDT decimal.Decimal // FilledQty * Price
	EventTime  time.Time
}

// Opportunity reports which contrarian side this event opens up.
func (e Event) Opportunity() string {
	if e.Side == SideSell {
		return "long"
	}
	return "short"
}
