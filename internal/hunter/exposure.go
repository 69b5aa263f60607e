package hunter

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ExposureGuard is the global admission-control gate from §4.H step 7:
// caps concurrent positions, total notional, and applies a per-symbol
// cooldown after a notional-cap rejection (a concurrency-limit rejection
// starts no cooldown). Grounded on the donor's GlobalExposureGuard
// (predator_engine.go), generalized to read its limits from the
// hot-reloadable config instead of constructor constants.
type ExposureGuard struct {
	mu            sync.Mutex
	maxConcurrent int
	totalLimit    decimal.Decimal
	active        map[string]decimal.Decimal
	blockedUntil  map[string]time.Time
}

func NewExposureGuard(maxConcurrent int, totalLimit decimal.Decimal) *ExposureGuard {
	return &ExposureGuard{
		maxConcurrent: maxConcurrent,
		totalLimit:    totalLimit,
		active:        make(map[string]decimal.Decimal),
		blockedUntil:  make(map[string]time.Time),
	}
}

// SetLimits updates the guard's limits in place on hot-reload.
func (g *ExposureGuard) SetLimits(maxConcurrent int, totalLimit decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxConcurrent = maxConcurrent
	g.totalLimit = totalLimit
}

// CanEnter reports whether a new position of requiredNotional may open for
// symbol right now.
func (g *ExposureGuard) CanEnter(symbol string, requiredNotional decimal.Decimal, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.blockedUntil[symbol]; ok {
		if now.Before(until) {
			return false
		}
		delete(g.blockedUntil, symbol)
	}

	if len(g.active) >= g.maxConcurrent {
		return false
	}

	total := requiredNotional
	for _, n := range g.active {
		total = total.Add(n)
	}
	if total.GreaterThan(g.totalLimit) {
		g.blockedUntil[symbol] = now.Add(30 * time.Second)
		return false
	}
	return true
}

func (g *ExposureGuard) Register(symbol string, notional decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[symbol] = notional
}

func (g *ExposureGuard) Release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, symbol)
}

// OpenCount reports the number of currently-registered active trades.
func (g *ExposureGuard) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
