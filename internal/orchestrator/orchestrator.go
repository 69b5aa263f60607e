// Package orchestrator wires the liquidation ingest, threshold monitor, VWAP
// streamer, hunter, reconciler, status broadcaster, and error sink into one
// running engine, and drives config hot-reload and graceful shutdown (§5).
// Grounded on the donor's main.go wiring of PredatorEngine/TrendAnalyzer/Hub.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/broadcast"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/errlog"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/hunter"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/liquidation"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/money"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/reconciler"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/vwap"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
)

// ForceOrderStreamURL is the venue's public force-liquidation stream.
const ForceOrderStreamURL = "wss://fstream.binance.com/ws/!forceOrder@arr"

// drainTimeout bounds how long shutdown waits for in-flight work (§5).
const drainTimeout = 5 * time.Second

// pendingSweepInterval is how often the Hunter's TTL eviction runs.
const pendingSweepInterval = 30 * time.Second

// housekeepInterval is the threshold monitor's decay/housekeeping cadence (§4.D).
const housekeepInterval = 10 * time.Second

// Engine owns every long-running subsystem and the goroutines that drive them.
type Engine struct {
	Store       *config.Store
	Client      exchange.API
	Money       *money.Registry
	Ingest      *liquidation.Ingest
	Monitor     *liquidation.Monitor
	VWAP        *vwap.Streamer
	Hunter      *hunter.Hunter
	Reconciler  *reconciler.Reconciler
	Broadcaster *broadcast.Broadcaster
	Errors      errlog.Sink

	totalExposureLimit decimal.Decimal
	guard              *hunter.ExposureGuard

	defaultVWAPInterval string
	defaultVWAPLookback int

	runCtx context.Context
	wg     *sync.WaitGroup

	vwapMu     sync.Mutex
	vwapCancel map[string]context.CancelFunc
}

// New constructs an Engine from a loaded config. It only builds the wiring;
// callers start the subsystems with Run.
func New(cfg *config.Config) *Engine {
	store := config.NewStore(cfg)
	client := exchange.New(cfg.API.APIKey, cfg.API.SecretKey, false)
	reg := money.New(client.Raw())
	monitor := liquidation.NewMonitor()
	streamer := vwap.New(client)

	totalLimit := decimal.NewFromInt(int64(cfg.Global.MaxOpenPositions)).Mul(decimal.NewFromInt(1_000_000))
	guard := hunter.NewExposureGuard(cfg.Global.MaxOpenPositions, totalLimit)

	rec := reconciler.New(client, reg, store)
	h := hunter.New(store, client, reg, streamer, monitor, guard, cfg.Global.PaperMode, rec.MarginUsage)
	b := broadcast.New()
	sink := errlog.NewRingSink(500)

	symbols := make([]string, 0, len(cfg.Symbols))
	for s := range cfg.Symbols {
		symbols = append(symbols, s)
	}
	// Simulation mode requires paper mode AND absent credentials (§4.C) —
	// a misconfigured paper run with real keys still dials the live public
	// force-order stream.
	simulate := cfg.Global.PaperMode && cfg.API.APIKey == "" && cfg.API.SecretKey == ""
	ingest := liquidation.New(ForceOrderStreamURL, simulate, symbols)

	e := &Engine{
		Store: store, Client: client, Money: reg,
		Ingest: ingest, Monitor: monitor, VWAP: streamer,
		Hunter: h, Reconciler: rec, Broadcaster: b, Errors: sink,
		totalExposureLimit: totalLimit, guard: guard,
		vwapCancel: make(map[string]context.CancelFunc),
	}
	e.wireSymbols(cfg)
	e.wireEvents()
	return e
}

// wireSymbols configures the threshold monitor for every symbol present in
// the initial config; ApplyConfig re-applies this on hot-reload.
func (e *Engine) wireSymbols(cfg *config.Config) {
	for sym, s := range cfg.Symbols {
		window := time.Duration(s.ThresholdWindowMs) * time.Millisecond
		cooldown := time.Duration(s.CooldownMs) * time.Millisecond
		e.Monitor.Configure(sym, s.LongThresholdUSDT, s.ShortThresholdUSDT, window, cooldown)
	}
}

// ApplyConfig re-applies the threshold monitor configuration and exposure
// guard limits after a hot-reload, and starts/stops per-symbol VWAP watcher
// goroutines for symbols added or removed by the reload (§6).
func (e *Engine) ApplyConfig(cfg *config.Config, d config.Diff) {
	e.wireSymbols(cfg)
	e.guard.SetLimits(cfg.Global.MaxOpenPositions, decimal.NewFromInt(int64(cfg.Global.MaxOpenPositions)).Mul(decimal.NewFromInt(1_000_000)))

	if e.runCtx == nil {
		return
	}
	for _, sym := range d.AddedSymbols {
		e.startVWAPWatcher(sym)
	}
	for _, sym := range d.ChangedSymbols {
		e.startVWAPWatcher(sym) // restarts with the symbol's possibly-new bar size/lookback
	}
	for _, sym := range d.RemovedSymbols {
		e.stopVWAPWatcher(sym)
	}
}

// vwapParams resolves the per-symbol bar size/lookback (§3), falling back to
// the engine defaults when a symbol leaves them unset.
func (e *Engine) vwapParams(sym config.Symbol) (string, int) {
	interval := sym.VWAPBarSize
	if interval == "" {
		interval = e.defaultVWAPInterval
	}
	lookback := sym.VWAPLookback
	if lookback <= 0 {
		lookback = e.defaultVWAPLookback
	}
	return interval, lookback
}

// startVWAPWatcher launches (or restarts) one symbol's VWAP.Watch goroutine,
// tracked so a later hot-reload removal or interval change can cancel it.
func (e *Engine) startVWAPWatcher(symbol string) {
	sym, ok := e.Store.Symbol(symbol)
	if !ok {
		return
	}
	if !sym.VWAPProtection {
		e.stopVWAPWatcher(symbol)
		return
	}
	interval, lookback := e.vwapParams(sym)

	e.vwapMu.Lock()
	if cancel, exists := e.vwapCancel[symbol]; exists {
		cancel()
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	e.vwapCancel[symbol] = cancel
	e.vwapMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.VWAP.Watch(ctx, symbol, interval, lookback)
	}()
}

// stopVWAPWatcher cancels a symbol's VWAP.Watch goroutine, used when a
// hot-reload removes the symbol entirely.
func (e *Engine) stopVWAPWatcher(symbol string) {
	e.vwapMu.Lock()
	defer e.vwapMu.Unlock()
	if cancel, ok := e.vwapCancel[symbol]; ok {
		cancel()
		delete(e.vwapCancel, symbol)
	}
}

// wireEvents connects the subsystems' pub/sub callbacks: ingest feeds the
// threshold monitor and Hunter, the reconciler's fills evict Hunter's
// pending-order reservations, and every component's events fan out onto the
// status broadcaster and error sink.
func (e *Engine) wireEvents() {
	e.Ingest.Subscribe(func(ev liquidation.Event) {
		e.Broadcaster.Publish(broadcast.TopicLiquidation, ev)

		sym, ok := e.Store.Symbol(ev.Symbol)
		if !ok {
			return
		}
		if sym.UseThreshold {
			update, fired := e.Monitor.Ingest(ev, time.Now())
			if fired {
				e.Broadcaster.Publish(broadcast.TopicThreshold, update)
				e.Hunter.HandleThresholdUpdate(context.Background(), update, ev)
			}
			return
		}
		e.Hunter.HandleInstantEvent(context.Background(), ev)
	})

	e.Hunter.OnDecision(func(d hunter.Decision) {
		e.Broadcaster.Publish(broadcast.TopicOrder, d)
	})
	e.Hunter.OnPaperPosition(func(p hunter.PaperPosition) {
		e.Broadcaster.Publish(broadcast.TopicPosition, p)
	})

	e.VWAP.Subscribe(func(snap vwap.Snapshot) {
		e.Broadcaster.Publish(broadcast.TopicVWAP, snap)
	})

	e.Reconciler.Subscribe(func(ev reconciler.Event) {
		switch ev.Kind {
		case reconciler.EventOrderFilled, reconciler.EventOrderCancelled:
			e.Hunter.ClearPending(ev.Symbol)
			e.Broadcaster.Publish(broadcast.TopicOrder, ev)
		case reconciler.EventPositionChanged:
			e.Broadcaster.Publish(broadcast.TopicPosition, ev)
		case reconciler.EventCritical:
			e.Broadcaster.Publish(broadcast.TopicError, ev)
			_ = e.Errors.Record(context.Background(), errlog.Record{
				ErrorType: xerrors.KindProtocol,
				Component: "reconciler",
				Symbol:    ev.Symbol,
				Message:   ev.Message,
				Severity:  xerrors.SeverityCritical,
			})
		}
	})
}

// Run starts every subsystem goroutine and blocks until ctx is cancelled,
// then drains for at most drainTimeout before returning (§5).
func (e *Engine) Run(ctx context.Context, vwapInterval string, vwapLookback int) error {
	logger := log.With().Str("component", "orchestrator").Logger()

	if err := e.Money.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial precision refresh failed, using defaults")
	}

	e.defaultVWAPInterval = vwapInterval
	e.defaultVWAPLookback = vwapLookback

	var wg sync.WaitGroup
	e.wg = &wg
	e.runCtx = ctx

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error().Err(err).Str("task", name).Msg("subsystem exited with error")
			}
		}()
	}

	run("liquidation-ingest", e.Ingest.Run)
	run("reconciler", e.Reconciler.Run)
	run("reconciler-userstream", e.Reconciler.RunUserStream)

	for sym := range e.Store.Current().Symbols {
		e.startVWAPWatcher(sym)
	}

	run("threshold-housekeeping", e.runHousekeeping)
	run("pending-sweep", e.runPendingSweep)

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining")

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn().Msg("drain timeout exceeded, forcing exit")
	}
	return nil
}

func (e *Engine) runHousekeeping(ctx context.Context) error {
	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Monitor.Housekeep(time.Now())
		}
	}
}

func (e *Engine) runPendingSweep(ctx context.Context) error {
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Hunter.EvictExpiredPending(time.Now())
		}
	}
}
