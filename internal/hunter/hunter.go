// Package hunter implements the contrarian entry decision pipeline (§4.H):
// gate chain (volume, price proximity, VWAP), admission control, pricing,
// sizing, and order placement with a limit-to-market fallback. Grounded on
// the donor's PredatorEngine/PredatorWorker (predator_engine.go) and
// ExecuteTrade (execution_service.go), generalized from the donor's
// one-trade-per-worker-goroutine model into a single event-driven pipeline
// reading the hot-reloadable config.
package hunter

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/liquidation"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/money"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/vwap"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
)

// pendingTTL is how long an in-flight order reserves its symbol slot before
// being considered abandoned (§4.H step 11).
const pendingTTL = 5 * time.Minute

// proximityTolerance is the 1% contrarian price-proximity band (§4.H step 5).
var proximityTolerance = decimal.RequireFromString("0.01")

// PendingOrder tracks an in-flight entry order awaiting a fill or TTL expiry.
type PendingOrder struct {
	Symbol    string
	OrderID   int64
	Side      futures.SideType
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	PlacedAt  time.Time
}

// Decision is the outcome of running the gate chain over one liquidation
// event, published for the UI regardless of whether it led to an order.
type Decision struct {
	Symbol      string
	Opportunity string
	Admitted    bool
	Blocked     bool
	BlockReason string
	Err         error
}

// Hunter owns the gate chain, admission control, and placement logic.
type Hunter struct {
	store       *config.Store
	client      exchange.API
	money       *money.Registry
	vwap        *vwap.Streamer
	monitor     *liquidation.Monitor
	guard       *ExposureGuard
	paper       bool
	marginUsage func(symbol string) decimal.Decimal

	mu      sync.Mutex
	pending map[string]PendingOrder // symbol -> in-flight order

	decisionHandlers []func(Decision)
	positionHandlers []func(PaperPosition)
}

// PaperPosition is the synthesized fill the Hunter emits in paper mode
// (§4.H, "Paper mode short-circuits at step 11").
type PaperPosition struct {
	Symbol   string
	Side     futures.SideType
	Quantity decimal.Decimal
	Price    decimal.Decimal
	OpenedAt time.Time
}

// New builds a Hunter. marginUsage reports the symbol's already-open margin
// (entry notional of live positions), consulted by admit alongside the new
// order's own notional so the max-margin-per-symbol limit is enforced in
// aggregate rather than per-order.
func New(store *config.Store, client exchange.API, reg *money.Registry, streamer *vwap.Streamer, monitor *liquidation.Monitor, guard *ExposureGuard, paper bool, marginUsage func(symbol string) decimal.Decimal) *Hunter {
	return &Hunter{
		store:       store,
		client:      client,
		money:       reg,
		vwap:        streamer,
		monitor:     monitor,
		guard:       guard,
		paper:       paper,
		marginUsage: marginUsage,
		pending:     make(map[string]PendingOrder),
	}
}

// OnDecision registers a callback for every gate-chain decision (blocked or admitted).
func (h *Hunter) OnDecision(fn func(Decision)) { h.decisionHandlers = append(h.decisionHandlers, fn) }

// OnPaperPosition registers a callback for synthesized paper-mode fills.
func (h *Hunter) OnPaperPosition(fn func(PaperPosition)) {
	h.positionHandlers = append(h.positionHandlers, fn)
}

func (h *Hunter) publishDecision(d Decision) {
	for _, fn := range h.decisionHandlers {
		fn(d)
	}
}

func (h *Hunter) blocked(symbol, opportunity, reason string) Decision {
	d := Decision{Symbol: symbol, Opportunity: opportunity, Blocked: true, BlockReason: reason}
	h.publishDecision(d)
	return d
}

// HandleThresholdUpdate drives the volume gate when the threshold system is
// enabled: the orchestrator calls it with the ThresholdUpdate returned by
// liquidation.Monitor.Ingest when that update fires, and it turns the firing
// threshold into an Evaluate call.
func (h *Hunter) HandleThresholdUpdate(ctx context.Context, u liquidation.ThresholdUpdate, ev liquidation.Event) Decision {
	sym, ok := h.store.Symbol(u.Symbol)
	if !ok {
		return h.blocked(u.Symbol, ev.Opportunity(), "symbol not configured")
	}
	if !sym.UseThreshold {
		return h.blocked(u.Symbol, ev.Opportunity(), "threshold system disabled for symbol")
	}

	var side futures.SideType
	switch {
	case ev.Opportunity() == "long" && u.WillTriggerLong:
		side = futures.SideTypeBuy
	case ev.Opportunity() == "short" && u.WillTriggerShort:
		side = futures.SideTypeSell
	default:
		return h.blocked(u.Symbol, ev.Opportunity(), "threshold not yet met")
	}

	return h.evaluate(ctx, sym, ev, side)
}

// HandleInstantEvent drives the volume gate in instant mode: a single event
// clearing its side's threshold fires immediately with no cumulative window.
func (h *Hunter) HandleInstantEvent(ctx context.Context, ev liquidation.Event) Decision {
	sym, ok := h.store.Symbol(ev.Symbol)
	if !ok {
		return h.blocked(ev.Symbol, ev.Opportunity(), "symbol not configured")
	}
	if sym.UseThreshold {
		return h.blocked(ev.Symbol, ev.Opportunity(), "instant mode disabled, threshold system in use")
	}

	var side futures.SideType
	var threshold decimal.Decimal
	if ev.Opportunity() == "long" {
		side = futures.SideTypeBuy
		threshold = sym.LongThresholdUSDT
	} else {
		side = futures.SideTypeSell
		threshold = sym.ShortThresholdUSDT
	}
	if threshold.IsZero() || ev.VolumeUSDT.LessThan(threshold) {
		return h.blocked(ev.Symbol, ev.Opportunity(), "volume below side threshold")
	}

	return h.evaluate(ctx, sym, ev, side)
}

// evaluate runs gates 5-13 of §4.H once the volume gate (step 4) has already
// proposed a side.
func (h *Hunter) evaluate(ctx context.Context, sym config.Symbol, ev liquidation.Event, side futures.SideType) Decision {
	logger := log.With().Str("component", "hunter").Str("symbol", ev.Symbol).Logger()
	opportunity := ev.Opportunity()

	mark, err := h.client.MarkPrice(ctx, ev.Symbol)
	if err != nil {
		return h.blocked(ev.Symbol, opportunity, "mark price unavailable: "+err.Error())
	}
	markPrice, err := decimal.NewFromString(mark.MarkPrice)
	if err != nil {
		return h.blocked(ev.Symbol, opportunity, "unparseable mark price")
	}

	if !withinProximity(side, ev.Price, markPrice) {
		return h.blocked(ev.Symbol, opportunity, "liquidation price outside 1% proximity band")
	}

	if sym.VWAPProtection {
		v, fresh := h.vwap.Current(ev.Symbol)
		vwapPrice := v.VWAP
		if !fresh {
			restV, err := h.vwap.RESTFallback(ctx, ev.Symbol, sym.VWAPBarSize, sym.VWAPLookback)
			if err != nil {
				return h.blocked(ev.Symbol, opportunity, "vwap unavailable: "+err.Error())
			}
			vwapPrice = restV
		}
		if !vwapAllows(side, ev.Price, vwapPrice) {
			return h.blocked(ev.Symbol, opportunity, "vwap gate rejected side")
		}
	}

	requiredNotional := sym.LongTradeSizeUSDT
	if side == futures.SideTypeSell {
		requiredNotional = sym.ShortTradeSizeUSDT
	}
	requiredNotional = requiredNotional.Mul(decimal.NewFromInt(int64(sym.Leverage)))

	if !h.admit(ev.Symbol, requiredNotional, sym) {
		return h.blocked(ev.Symbol, opportunity, "admission control rejected")
	}

	price, orderType, tif := h.price(ctx, ev.Symbol, side, sym, markPrice)

	qty, snappedPrice, sizingErr := h.size(ev.Symbol, sym, requiredNotional, price)
	if sizingErr != nil {
		h.guard.Release(ev.Symbol)
		return Decision{Symbol: ev.Symbol, Opportunity: opportunity, Blocked: true, BlockReason: sizingErr.Error(), Err: sizingErr}
	}

	if err := h.client.SetLeverage(ctx, ev.Symbol, sym.Leverage); err != nil {
		logger.Warn().Err(err).Msg("set leverage failed, continuing with existing venue leverage")
	}

	if h.paper {
		h.guard.Release(ev.Symbol)
		h.publishPaperPosition(PaperPosition{Symbol: ev.Symbol, Side: side, Quantity: qty, Price: snappedPrice, OpenedAt: time.Now()})
		d := Decision{Symbol: ev.Symbol, Opportunity: opportunity, Admitted: true}
		h.publishDecision(d)
		return d
	}

	if err := h.place(ctx, sym, ev.Symbol, side, orderType, tif, qty, snappedPrice); err != nil {
		h.guard.Release(ev.Symbol)
		return Decision{Symbol: ev.Symbol, Opportunity: opportunity, Blocked: true, BlockReason: err.Error(), Err: err}
	}

	d := Decision{Symbol: ev.Symbol, Opportunity: opportunity, Admitted: true}
	h.publishDecision(d)
	return d
}

func (h *Hunter) publishPaperPosition(p PaperPosition) {
	for _, fn := range h.positionHandlers {
		fn(p)
	}
}

// withinProximity implements step 5: BUY only if liquidation price is below
// 1.01x mark, SELL only if above 0.99x mark.
func withinProximity(side futures.SideType, liqPrice, mark decimal.Decimal) bool {
	if mark.IsZero() {
		return false
	}
	ratio := liqPrice.Div(mark).Sub(decimal.NewFromInt(1)).Abs()
	if ratio.GreaterThanOrEqual(proximityTolerance) {
		return false
	}
	if side == futures.SideTypeBuy {
		return liqPrice.LessThan(mark.Mul(decimal.NewFromFloat(1.01)))
	}
	return liqPrice.GreaterThan(mark.Mul(decimal.NewFromFloat(0.99)))
}

// vwapAllows implements step 6: BUY only strictly below VWAP, SELL only
// strictly above.
func vwapAllows(side futures.SideType, liqPrice, vwapPrice decimal.Decimal) bool {
	if side == futures.SideTypeBuy {
		return liqPrice.LessThan(vwapPrice)
	}
	return liqPrice.GreaterThan(vwapPrice)
}

// admit implements step 7: single-in-flight per symbol, aggregate max-margin
// per symbol (already-open margin plus this order against
// MaxMarginUSDT*leverage), plus the generalized exposure guard.
func (h *Hunter) admit(symbol string, requiredNotional decimal.Decimal, sym config.Symbol) bool {
	h.mu.Lock()
	if _, exists := h.pending[symbol]; exists {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()

	if !sym.MaxMarginUSDT.IsZero() {
		var existing decimal.Decimal
		if h.marginUsage != nil {
			existing = h.marginUsage(symbol)
		}
		limit := sym.MaxMarginUSDT.Mul(decimal.NewFromInt(int64(sym.Leverage)))
		if existing.Add(requiredNotional).GreaterThan(limit) {
			return false
		}
	}

	if !h.guard.CanEnter(symbol, requiredNotional, time.Now()) {
		return false
	}
	h.guard.Register(symbol, requiredNotional)
	return true
}

// price implements step 8: limit pricing off the book top with offset, or a
// market fallback when not computable.
func (h *Hunter) price(ctx context.Context, symbol string, side futures.SideType, sym config.Symbol, mark decimal.Decimal) (decimal.Decimal, futures.OrderType, futures.TimeInForceType) {
	if sym.OrderMode == config.OrderModeMarket {
		return mark, futures.OrderTypeMarket, ""
	}

	book, err := h.client.OrderBook(ctx, symbol, 5)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return mark, futures.OrderTypeMarket, ""
	}

	offsetFrac := sym.LimitOffsetBps.Div(decimal.NewFromInt(10000))
	var limitPrice decimal.Decimal
	if side == futures.SideTypeBuy {
		bestAsk, err := decimal.NewFromString(book.Asks[0].Price)
		if err != nil {
			return mark, futures.OrderTypeMarket, ""
		}
		limitPrice = bestAsk.Add(bestAsk.Mul(offsetFrac))
	} else {
		bestBid, err := decimal.NewFromString(book.Bids[0].Price)
		if err != nil {
			return mark, futures.OrderTypeMarket, ""
		}
		limitPrice = bestBid.Sub(bestBid.Mul(offsetFrac))
	}

	slippage := limitPrice.Sub(mark).Div(mark).Abs().Mul(decimal.NewFromInt(10000))
	if slippage.GreaterThan(sym.MaxSlippageBps) {
		return mark, futures.OrderTypeMarket, ""
	}

	tif := futures.TimeInForceTypeGTC
	if sym.PostOnly {
		tif = futures.TimeInForceTypeGTX
	}
	return limitPrice, futures.OrderTypeLimit, tif
}

// size implements step 9.
func (h *Hunter) size(symbol string, sym config.Symbol, notional, price decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	snappedPrice := h.money.SnapPrice(symbol, price)
	if snappedPrice.IsZero() {
		return decimal.Zero, decimal.Zero, xerrors.New(xerrors.KindPrecision, "size", symbol, "snapped price is zero", nil)
	}

	minNotional := h.money.MinNotional(symbol).Mul(decimal.NewFromFloat(1.01))
	if notional.LessThan(minNotional) {
		notional = minNotional
	}

	qty := h.money.SnapQty(symbol, notional.Div(snappedPrice))
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, xerrors.New(xerrors.KindPrecision, "size", symbol, "snapped quantity is zero", nil)
	}
	if !h.money.MeetsMinNotional(symbol, snappedPrice, qty) {
		return decimal.Zero, decimal.Zero, xerrors.New(xerrors.KindNotional, "size", symbol, "sized order below minimum notional", nil)
	}
	return qty, snappedPrice, nil
}

// place implements steps 11-13: submit, register pending, and fall back to
// market once on a recoverable rejection.
func (h *Hunter) place(ctx context.Context, sym config.Symbol, symbol string, side futures.SideType, orderType futures.OrderType, tif futures.TimeInForceType, qty, price decimal.Decimal) error {
	params := exchange.OrderParams{
		Symbol:   symbol,
		Side:     side,
		Type:     orderType,
		Quantity: h.money.FormatQty(symbol, qty),
	}
	if orderType == futures.OrderTypeLimit {
		params.Price = h.money.FormatPrice(symbol, price)
		params.TimeInForce = tif
	}

	resp, err := h.client.PlaceOrder(ctx, params)
	if err == nil {
		h.registerPending(symbol, resp.OrderID, side, qty, price)
		return nil
	}

	te := xerrors.Classify("placeOrder", symbol, err)
	if orderType != futures.OrderTypeLimit || te == nil || !te.LocallyRecoverable() {
		return err
	}

	marketParams := exchange.OrderParams{
		Symbol:   symbol,
		Side:     side,
		Type:     futures.OrderTypeMarket,
		Quantity: h.money.FormatQty(symbol, qty),
	}
	resp, err2 := h.client.PlaceOrder(ctx, marketParams)
	if err2 != nil {
		return err2
	}
	h.registerPending(symbol, resp.OrderID, side, qty, price)
	return nil
}

func (h *Hunter) registerPending(symbol string, orderID int64, side futures.SideType, qty, price decimal.Decimal) {
	h.mu.Lock()
	h.pending[symbol] = PendingOrder{Symbol: symbol, OrderID: orderID, Side: side, Quantity: qty, Price: price, PlacedAt: time.Now()}
	h.mu.Unlock()
}

// ClearPending evicts a symbol's pending-order reservation, called when the
// reconciler observes the order filled or cancelled. A failed placement
// records no reservation, so it does not call this.
func (h *Hunter) ClearPending(symbol string) {
	h.mu.Lock()
	delete(h.pending, symbol)
	h.mu.Unlock()
	h.guard.Release(symbol)
}

// EvictExpiredPending releases any pending-order reservation older than
// pendingTTL whose order was never confirmed filled (§4.H step 11's 5-minute TTL).
func (h *Hunter) EvictExpiredPending(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, p := range h.pending {
		if now.Sub(p.PlacedAt) > pendingTTL {
			delete(h.pending, symbol)
			h.guard.Release(symbol)
		}
	}
}

// Pending returns the current in-flight order for a symbol, if any.
func (h *Hunter) Pending(symbol string) (PendingOrder, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[symbol]
	return p, ok
}
