// Package money holds the per-symbol precision registry: tick size, step
// size, min notional, and the snap-to-grid helpers every order placement
// path depends on. Values are carried as decimal.Decimal end to end so that
// repeated snapping never accumulates IEEE-float rounding drift.
package money

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// Profile holds the precision facts for a single symbol.
type Profile struct {
	Symbol            string
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinNotional       decimal.Decimal
	PricePrecision    int32
	QuantityPrecision int32
}

var defaultProfile = Profile{
	TickSize:          decimal.RequireFromString("0.0001"),
	StepSize:          decimal.RequireFromString("0.001"),
	MinNotional:       decimal.RequireFromString("5"),
	PricePrecision:    4,
	QuantityPrecision: 3,
}

// futuresClient is the subset of *futures.Client this package needs;
// declared as an interface so tests can substitute a fake.
type futuresClient interface {
	NewExchangeInfoService() *futures.ExchangeInfoService
}

// Registry memoizes symbol precision and offers pure snap-to-grid helpers.
// It is owned by exactly one task (the orchestrator at startup, refreshed on
// hot-reload); readers elsewhere only call the pure Snap*/MeetsMinNotional
// methods, which briefly take the registry's exclusive lock.
type Registry struct {
	client futuresClient

	mu       chan struct{} // binary semaphore, see lock()/unlock()
	profiles map[string]Profile
}

func New(client futuresClient) *Registry {
	r := &Registry{
		client:   client,
		mu:       make(chan struct{}, 1),
		profiles: make(map[string]Profile),
	}
	r.mu <- struct{}{}
	return r
}

func (r *Registry) lock()   { <-r.mu }
func (r *Registry) unlock() { r.mu <- struct{}{} }

// Refresh calls exchangeInfo() and memoizes tick/step/minNotional per symbol.
// It is safe to call repeatedly (hot-reload, newly listed symbols); entries
// for symbols no longer returned by the venue are left in place so the
// engine keeps operating on stale-but-plausible data rather than erroring.
func (r *Registry) Refresh(ctx context.Context) error {
	info, err := r.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("money: exchangeInfo: %w", err)
	}

	next := make(map[string]Profile, len(info.Symbols))
	for _, s := range info.Symbols {
		p := Profile{
			Symbol:            s.Symbol,
			TickSize:          defaultProfile.TickSize,
			StepSize:          defaultProfile.StepSize,
			MinNotional:       defaultProfile.MinNotional,
			PricePrecision:    int32(s.PricePrecision),
			QuantityPrecision: int32(s.QuantityPrecision),
		}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				if v, ok := f["tickSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						p.TickSize = d
					}
				}
			case "LOT_SIZE":
				if v, ok := f["stepSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						p.StepSize = d
					}
				}
			case "MIN_NOTIONAL", "NOTIONAL":
				if v, ok := f["notional"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						p.MinNotional = d
					}
				} else if v, ok := f["minNotional"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						p.MinNotional = d
					}
				}
			}
		}
		next[s.Symbol] = p
	}

	r.lock()
	for sym, p := range next {
		r.profiles[sym] = p
	}
	r.unlock()
	return nil
}

func (r *Registry) profileFor(symbol string) Profile {
	r.lock()
	p, ok := r.profiles[symbol]
	r.unlock()
	if !ok {
		p = defaultProfile
		p.Symbol = symbol
	}
	return p
}

// SnapPrice rounds down to the nearest tick: floor(p/tick) * tick.
func (r *Registry) SnapPrice(symbol string, price decimal.Decimal) decimal.Decimal {
	p := r.profileFor(symbol)
	return snap(price, p.TickSize)
}

// SnapQty rounds down to the nearest step: floor(q/step) * step.
func (r *Registry) SnapQty(symbol string, qty decimal.Decimal) decimal.Decimal {
	p := r.profileFor(symbol)
	return snap(qty, p.StepSize)
}

func snap(value, grid decimal.Decimal) decimal.Decimal {
	if grid.IsZero() {
		return value
	}
	units := value.Div(grid).Floor()
	return units.Mul(grid)
}

// MeetsMinNotional reports whether price*qty >= minNotional for the symbol.
func (r *Registry) MeetsMinNotional(symbol string, price, qty decimal.Decimal) bool {
	p := r.profileFor(symbol)
	return price.Mul(qty).GreaterThanOrEqual(p.MinNotional)
}

// MinNotional returns the configured (or default) minimum notional for a symbol.
func (r *Registry) MinNotional(symbol string) decimal.Decimal {
	return r.profileFor(symbol).MinNotional
}

// FormatPrice renders a price at the symbol's price precision for the wire.
func (r *Registry) FormatPrice(symbol string, price decimal.Decimal) string {
	p := r.profileFor(symbol)
	return price.StringFixed(p.PricePrecision)
}

// FormatQty renders a quantity at the symbol's quantity precision for the wire.
func (r *Registry) FormatQty(symbol string, qty decimal.Decimal) string {
	p := r.profileFor(symbol)
	return qty.StringFixed(p.QuantityPrecision)
}

// Profile exposes the memoized (or default) profile for a symbol, primarily
// for the reconciler and tests.
func (r *Registry) Profile(symbol string) Profile {
	return r.profileFor(symbol)
}
