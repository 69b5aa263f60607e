package liquidation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ThresholdUpdate is emitted after every incoming liquidation (and by the
// housekeeping timer when progress has decayed), per §4.D step 6.
type ThresholdUpdate struct {
	Symbol          string
	LongThreshold   decimal.Decimal
	ShortThreshold  decimal.Decimal
	RecentLong      decimal.Decimal
	RecentShort     decimal.Decimal
	LongProgress    float64
	ShortProgress   float64
	WillTriggerLong bool
	WillTriggerShort bool
}

type symbolState struct {
	window   time.Duration
	cooldown time.Duration

	longThreshold  decimal.Decimal
	shortThreshold decimal.Decimal

	longCandidates  []Event // side=SELL -> long opportunity
	shortCandidates []Event // side=BUY -> short opportunity

	lastLongTrigger  time.Time
	lastShortTrigger time.Time

	lastLongProgress  float64
	lastShortProgress float64
}

// Monitor is the per-(symbol,side) cumulative-volume sliding-window
// threshold aggregator with cooldown (§4.D), generalized from the donor's
// single-window LiquidationMonitor (liquidation_monitor.go) into separate
// long/short windows each with their own cooldown and last-trigger clock.
type Monitor struct {
	mu      sync.Mutex
	symbols map[string]*symbolState

	handlers []func(ThresholdUpdate)
}

func NewMonitor() *Monitor {
	return &Monitor{symbols: make(map[string]*symbolState)}
}

// Configure (re)sets the threshold parameters for a symbol; safe to call on
// hot-reload. It does not discard existing candidate events.
func (m *Monitor) Configure(symbol string, longThreshold, shortThreshold decimal.Decimal, window, cooldown time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.symbols[symbol]
	if !ok {
		st = &symbolState{}
		m.symbols[symbol] = st
	}
	st.window = window
	st.cooldown = cooldown
	st.longThreshold = longThreshold
	st.shortThreshold = shortThreshold
}

// Subscribe registers a callback for every ThresholdUpdate.
func (m *Monitor) Subscribe(fn func(ThresholdUpdate)) {
	m.handlers = append(m.handlers, fn)
}

func (m *Monitor) publish(u ThresholdUpdate) {
	for _, h := range m.handlers {
		h(u)
	}
}

// Ingest processes one liquidation event per §4.D steps 1-6 and returns the
// resulting update. now is an injected clock for deterministic testing.
func (m *Monitor) Ingest(ev Event, now time.Time) (ThresholdUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.symbols[ev.Symbol]
	if !ok {
		return ThresholdUpdate{}, false
	}

	switch ev.Side {
	case SideSell: // long opportunity
		st.longCandidates = append(st.longCandidates, ev)
	case SideBuy: // short opportunity
		st.shortCandidates = append(st.shortCandidates, ev)
	}

	evict(&st.longCandidates, now, st.window)
	evict(&st.shortCandidates, now, st.window)

	recentLong := sumVolume(st.longCandidates)
	recentShort := sumVolume(st.shortCandidates)

	longProgress := progress(recentLong, st.longThreshold)
	shortProgress := progress(recentShort, st.shortThreshold)

	willLong := false
	if !st.longThreshold.IsZero() && recentLong.GreaterThanOrEqual(st.longThreshold) {
		if now.Sub(st.lastLongTrigger) >= st.cooldown {
			willLong = true
			st.lastLongTrigger = now
		}
	}
	willShort := false
	if !st.shortThreshold.IsZero() && recentShort.GreaterThanOrEqual(st.shortThreshold) {
		if now.Sub(st.lastShortTrigger) >= st.cooldown {
			willShort = true
			st.lastShortTrigger = now
		}
	}

	st.lastLongProgress = longProgress
	st.lastShortProgress = shortProgress

	update := ThresholdUpdate{
		Symbol:           ev.Symbol,
		LongThreshold:    st.longThreshold,
		ShortThreshold:   st.shortThreshold,
		RecentLong:       recentLong,
		RecentShort:      recentShort,
		LongProgress:     longProgress,
		ShortProgress:    shortProgress,
		WillTriggerLong:  willLong,
		WillTriggerShort: willShort,
	}
	m.publish(update)
	return update, true
}

// Housekeep evicts stale entries for every configured symbol and emits an
// update only when progress moved by more than one percentage point on
// either side, per §4.D's 10-second housekeeping timer.
func (m *Monitor) Housekeep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for symbol, st := range m.symbols {
		beforeLong, beforeShort := st.lastLongProgress, st.lastShortProgress

		evict(&st.longCandidates, now, st.window)
		evict(&st.shortCandidates, now, st.window)

		recentLong := sumVolume(st.longCandidates)
		recentShort := sumVolume(st.shortCandidates)
		longProgress := progress(recentLong, st.longThreshold)
		shortProgress := progress(recentShort, st.shortThreshold)

		moved := absDiff(longProgress, beforeLong) > 1 || absDiff(shortProgress, beforeShort) > 1
		st.lastLongProgress = longProgress
		st.lastShortProgress = shortProgress

		if !moved {
			continue
		}

		m.publish(ThresholdUpdate{
			Symbol:         symbol,
			LongThreshold:  st.longThreshold,
			ShortThreshold: st.shortThreshold,
			RecentLong:     recentLong,
			RecentShort:    recentShort,
			LongProgress:   longProgress,
			ShortProgress:  shortProgress,
		})
	}
}

// RecentVolume exposes the currently-windowed cumulative volume for a
// symbol/opportunity side, used by tests verifying the decay law.
func (m *Monitor) RecentVolume(symbol string, opportunity string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.symbols[symbol]
	if !ok {
		return decimal.Zero
	}
	if opportunity == "long" {
		return sumVolume(st.longCandidates)
	}
	return sumVolume(st.shortCandidates)
}

func evict(events *[]Event, now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	valid := (*events)[:0]
	for _, ev := range *events {
		if ev.EventTime.After(cutoff) {
			valid = append(valid, ev)
		}
	}
	*events = valid
}

func sumVolume(events []Event) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.VolumeUSDT)
	}
	return total
}

func progress(recent, threshold decimal.Decimal) float64 {
	if threshold.IsZero() {
		return 0
	}
	p, _ := recent.Mul(decimal.NewFromInt(100)).Div(threshold).Float64()
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
