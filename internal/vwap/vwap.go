// Package vwap implements the rolling per-symbol volume-weighted average
// price streamer (§4.G), polling klines the way the donor's TrendAnalyzer
// polls them for EMA/RSI, but folding the bars into a VWAP instead.
package vwap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
)

// Position reports whether a price sits above or below the current VWAP.
type Position string

const (
	PositionAbove Position = "above"
	PositionBelow Position = "below"
)

// Snapshot is the per-symbol VWAP value published on bar close, per §3.
type Snapshot struct {
	Symbol    string
	VWAP      decimal.Decimal
	Timestamp time.Time
}

// FreshnessWindow is the staleness deadline a consumer uses before falling
// back to a REST-computed VWAP over the same definition (§4.G).
const FreshnessWindow = 5 * time.Second

// symbolStream tracks one symbol's rolling kline window.
type symbolStream struct {
	interval string
	lookback int

	mu       sync.RWMutex
	snapshot Snapshot
}

// Streamer maintains rolling VWAP per symbol with vwapProtection enabled.
// Each symbol is polled independently on a ticker aligned to its bar size;
// this mirrors the donor's per-call kline-polling with a retry loop
// (TrendAnalyzer.analyzeTimeframe) generalized to a long-running subscription
// rather than a one-shot call.
type Streamer struct {
	client exchange.API

	mu      sync.RWMutex
	streams map[string]*symbolStream

	handlers []func(Snapshot)
}

func New(client exchange.API) *Streamer {
	return &Streamer{client: client, streams: make(map[string]*symbolStream)}
}

// Subscribe registers a callback for every VWAP snapshot.
func (s *Streamer) Subscribe(fn func(Snapshot)) {
	s.handlers = append(s.handlers, fn)
}

func (s *Streamer) publish(snap Snapshot) {
	for _, h := range s.handlers {
		h(snap)
	}
}

// Watch starts (or restarts, on hot-reload) polling a symbol at interval
// with the given lookback, blocking until ctx is cancelled. Callers run one
// Watch per symbol in its own goroutine.
func (s *Streamer) Watch(ctx context.Context, symbol, interval string, lookback int) error {
	if lookback <= 0 {
		lookback = 100
	}
	stream := &symbolStream{interval: interval, lookback: lookback}

	s.mu.Lock()
	s.streams[symbol] = stream
	s.mu.Unlock()

	period := barDuration(interval)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	logger := log.With().Str("component", "vwap").Str("symbol", symbol).Logger()

	refresh := func() {
		snap, err := s.compute(ctx, symbol, interval, lookback)
		if err != nil {
			logger.Debug().Err(err).Msg("vwap refresh failed, keeping previous value")
			return
		}
		stream.mu.Lock()
		stream.snapshot = snap
		stream.mu.Unlock()
		s.publish(snap)
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

func (s *Streamer) compute(ctx context.Context, symbol, interval string, lookback int) (Snapshot, error) {
	klines, err := s.client.Klines(ctx, symbol, interval, lookback)
	if err != nil {
		return Snapshot{}, err
	}
	v, err := VWAPFromKlines(klines)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Symbol: symbol, VWAP: v, Timestamp: time.Now()}, nil
}

// Current returns the last computed snapshot for a symbol and whether it is
// still within the freshness window.
func (s *Streamer) Current(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	stream, ok := s.streams[symbol]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	stream.mu.RLock()
	defer stream.mu.RUnlock()
	fresh := time.Since(stream.snapshot.Timestamp) <= FreshnessWindow
	return stream.snapshot, fresh
}

// RESTFallback computes VWAP directly via a one-shot kline fetch, for
// consumers whose streamed value is stale (§4.G).
func (s *Streamer) RESTFallback(ctx context.Context, symbol, interval string, lookback int) (decimal.Decimal, error) {
	klines, err := s.client.Klines(ctx, symbol, interval, lookback)
	if err != nil {
		return decimal.Zero, err
	}
	return VWAPFromKlines(klines)
}

func barDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	default:
		return time.Minute
	}
}

func relation(price, vwap decimal.Decimal) Position {
	if price.LessThan(vwap) {
		return PositionBelow
	}
	return PositionAbove
}

// Relation reports whether price sits above or below vwap.
func Relation(price, vwap decimal.Decimal) Position { return relation(price, vwap) }

var errNoKlines = fmt.Errorf("vwap: no klines returned")
