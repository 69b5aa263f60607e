// Package reconciler maintains the protective-order invariant (§4.I): every
// non-zero position with a configured symbol carries exactly one reduce-only
// stop-loss and one reduce-only take-profit, sized to the position and
// priced off its entry. Grounded on the donor's MonitorPosition /
// placeProtectionOrders / MoveStopToBreakEven (execution_service.go), which
// this package generalizes from a single watched position per goroutine into
// a periodic sweep over every open position the venue reports.
package reconciler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/money"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
)

// userStreamWSBase is the venue's user-data-stream WebSocket base; the
// listen key obtained from StartUserStream is appended as the path.
const userStreamWSBase = "wss://fstream.binance.com/ws/"

// listenKeyKeepAliveInterval renews the listen key well inside the venue's
// 60-minute expiry.
const listenKeyKeepAliveInterval = 30 * time.Minute

// PositionSide is the logical long/short side of a position key, independent
// of one-way vs hedge venue accounting.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// PositionKey identifies one maintained position regardless of account mode.
type PositionKey struct {
	Symbol string
	Side   PositionSide
}

// Position is the reconciler's normalized view of one venue position.
type Position struct {
	Key        PositionKey
	Amount     decimal.Decimal // always positive; side carried in Key
	EntryPrice decimal.Decimal
	RawSide    futures.PositionSideType // BOTH, LONG, or SHORT as reported by the venue
}

// EventKind distinguishes the reconciler's published event types.
type EventKind string

const (
	EventOrderFilled     EventKind = "orderFilled"
	EventOrderCancelled  EventKind = "orderCancelled"
	EventPositionChanged EventKind = "positionChanged"
	EventCritical        EventKind = "critical"
)

// Event is published when the user-data stream reports a fill, a cancel or a
// position change, when the reconciler cancels an order itself, and on
// critical failures; it is consumed by the Hunter (to evict pending-order
// reservations) and the status broadcaster. Protective-order placements
// publish no event.
type Event struct {
	Kind    EventKind
	Symbol  string
	Message string
}

// missingProtectionLimit is the number of consecutive passes a position may
// go unprotected before the reconciler raises a critical error (§4.I).
const missingProtectionLimit = 3

// reconcileInterval is the periodic sweep cadence (§4.I, "every 5-10s").
const reconcileInterval = 7 * time.Second

// Reconciler owns the position-mode flag, margin-usage map, and
// missing-protection streak counters across passes.
type Reconciler struct {
	client exchange.API
	money  *money.Registry
	store  *config.Store

	mu             sync.Mutex
	hedgeMode      bool
	hedgeModeKnown bool
	marginUsage    map[string]decimal.Decimal
	missingStreak  map[PositionKey]int

	handlers []func(Event)
}

func New(client exchange.API, reg *money.Registry, store *config.Store) *Reconciler {
	return &Reconciler{
		client:        client,
		money:         reg,
		store:         store,
		marginUsage:   make(map[string]decimal.Decimal),
		missingStreak: make(map[PositionKey]int),
	}
}

// Subscribe registers a callback for every reconciler event.
func (r *Reconciler) Subscribe(fn func(Event)) { r.handlers = append(r.handlers, fn) }

func (r *Reconciler) publish(ev Event) {
	for _, fn := range r.handlers {
		fn(ev)
	}
}

// Run ticks Reconcile every reconcileInterval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.loadPositionMode(ctx); err != nil {
		log.Warn().Err(err).Msg("reconciler: could not load initial position mode, defaulting to one-way")
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	r.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

func (r *Reconciler) loadPositionMode(ctx context.Context) error {
	hedge, err := r.client.GetPositionMode(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.hedgeMode = hedge
	r.hedgeModeKnown = true
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) isHedgeMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hedgeModeKnown {
		return r.hedgeMode
	}
	return r.store.Current().Global.PositionMode == config.PositionModeHedge
}

// MarginUsage returns the current per-symbol notional-in-use map the Hunter
// consults for admission control (§4.I step 5).
func (r *Reconciler) MarginUsage(symbol string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marginUsage[symbol]
}

// Reconcile runs one full pass: steps 1-5 of §4.I.
func (r *Reconciler) Reconcile(ctx context.Context) {
	logger := log.With().Str("component", "reconciler").Logger()

	positions, err := r.client.Positions(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reconcile: fetching positions failed, skipping pass")
		return
	}
	orders, err := r.client.OpenOrders(ctx, "")
	if err != nil {
		logger.Warn().Err(err).Msg("reconcile: fetching open orders failed, skipping pass")
		return
	}

	hedge := r.isHedgeMode()
	normalized := normalizePositions(positions)
	margin := make(map[string]decimal.Decimal)
	seen := make(map[PositionKey]bool, len(normalized))

	for _, pos := range normalized {
		sym, ok := r.store.Symbol(pos.Key.Symbol)
		if !ok {
			continue
		}
		seen[pos.Key] = true
		margin[pos.Key.Symbol] = margin[pos.Key.Symbol].Add(pos.Amount.Mul(pos.EntryPrice))
		r.reconcilePosition(ctx, pos, sym, orders, hedge, logger)
	}

	r.mu.Lock()
	for key := range r.missingStreak {
		if !seen[key] {
			delete(r.missingStreak, key)
		}
	}
	r.marginUsage = margin
	r.mu.Unlock()

	r.reapOrphans(ctx, normalized, orders, hedge, logger)
}

// normalizePositions builds position keys per §4.I step 2, keeping only
// non-zero-amount entries.
func normalizePositions(raw []*futures.PositionRisk) []Position {
	var out []Position
	for _, p := range raw {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(p.EntryPrice)
		if err != nil {
			continue
		}

		side := Long
		if amt.IsNegative() {
			side = Short
		}

		out = append(out, Position{
			Key:        PositionKey{Symbol: p.Symbol, Side: side},
			Amount:     amt.Abs(),
			EntryPrice: entry,
			RawSide:    futures.PositionSideType(p.PositionSide),
		})
	}
	return out
}

// protectiveSide is the venue order side that closes a position of the given
// logical side: a LONG position is closed by a SELL, a SHORT by a BUY.
func protectiveSide(side PositionSide) futures.SideType {
	if side == Long {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func isStopOrder(t futures.OrderType) bool {
	return t == futures.OrderTypeStop || t == futures.OrderTypeStopMarket
}

func isTakeProfitOrder(t futures.OrderType) bool {
	return t == futures.OrderTypeTakeProfit || t == futures.OrderTypeTakeProfitMarket
}

// candidateOrders implements §4.I step 3a: symbol matches, reduceOnly,
// opposite side, and (in hedge mode) the position's matching positionSide.
func candidateOrders(pos Position, orders []*futures.Order, hedge bool) (stops, tps []*futures.Order) {
	want := protectiveSide(pos.Key.Side)
	for _, o := range orders {
		if o.Symbol != pos.Key.Symbol || !o.ReduceOnly || o.Side != want {
			continue
		}
		if hedge && o.PositionSide != pos.RawSide {
			continue
		}
		switch {
		case isStopOrder(o.Type):
			stops = append(stops, o)
		case isTakeProfitOrder(o.Type):
			tps = append(tps, o)
		}
	}
	return stops, tps
}

// stopPrice implements §4.I step 3b.
func stopPrice(pos Position, sym config.Symbol) decimal.Decimal {
	pct := sym.StopLossPercent.Div(decimal.NewFromInt(100))
	if pos.Key.Side == Long {
		return pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	return pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(pct))
}

// takeProfitPrice implements §4.I step 3c.
func takeProfitPrice(pos Position, sym config.Symbol) decimal.Decimal {
	pct := sym.TakeProfitPercent.Div(decimal.NewFromInt(100))
	if pos.Key.Side == Long {
		return pos.EntryPrice.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return pos.EntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
}

func (r *Reconciler) positionSideParam(hedge bool, side PositionSide) futures.PositionSideType {
	if !hedge {
		return futures.PositionSideTypeBoth
	}
	if side == Long {
		return futures.PositionSideTypeLong
	}
	return futures.PositionSideTypeShort
}

func (r *Reconciler) reconcilePosition(ctx context.Context, pos Position, sym config.Symbol, orders []*futures.Order, hedge bool, logger zerolog.Logger) {
	stops, tps := candidateOrders(pos, orders, hedge)

	missing := false

	if len(stops) == 0 {
		if err := r.placeProtective(ctx, pos, sym, hedge, true); err != nil {
			logger.Warn().Err(err).Str("symbol", pos.Key.Symbol).Msg("failed to place stop-loss")
			missing = true
		}
	} else if len(stops) > 1 {
		r.cancelExtras(ctx, pos.Key.Symbol, stops, pos.Amount, logger)
	} else {
		r.repriceIfDrifted(ctx, pos, sym, stops[0], true, logger)
	}

	if len(tps) == 0 {
		if err := r.placeProtective(ctx, pos, sym, hedge, false); err != nil {
			logger.Warn().Err(err).Str("symbol", pos.Key.Symbol).Msg("failed to place take-profit")
			missing = true
		}
	} else if len(tps) > 1 {
		r.cancelExtras(ctx, pos.Key.Symbol, tps, pos.Amount, logger)
	} else {
		r.repriceIfDrifted(ctx, pos, sym, tps[0], false, logger)
	}

	r.mu.Lock()
	if missing {
		r.missingStreak[pos.Key]++
		streak := r.missingStreak[pos.Key]
		r.mu.Unlock()
		if streak >= missingProtectionLimit {
			r.publish(Event{Kind: EventCritical, Symbol: pos.Key.Symbol, Message: "position unprotected for 3 consecutive reconcile passes"})
		}
	} else {
		delete(r.missingStreak, pos.Key)
		r.mu.Unlock()
	}
}

// placeProtective implements §4.I steps 3b/3c, with the position-mode
// mismatch retry-once-and-persist policy.
func (r *Reconciler) placeProtective(ctx context.Context, pos Position, sym config.Symbol, hedge, isStop bool) error {
	side := protectiveSide(pos.Key.Side)
	qty := r.money.FormatQty(pos.Key.Symbol, pos.Amount)

	var orderType futures.OrderType
	var triggerPrice decimal.Decimal
	var limitPrice decimal.Decimal
	if isStop {
		orderType = futures.OrderTypeStopMarket
		triggerPrice = r.money.SnapPrice(pos.Key.Symbol, stopPrice(pos, sym))
	} else {
		orderType = futures.OrderTypeTakeProfitMarket
		limitPrice = r.money.SnapPrice(pos.Key.Symbol, takeProfitPrice(pos, sym))
		triggerPrice = limitPrice
	}

	place := func(hedgeAttempt bool) error {
		params := exchange.OrderParams{
			Symbol:       pos.Key.Symbol,
			Side:         side,
			PositionSide: r.positionSideParam(hedgeAttempt, pos.Key.Side),
			Type:         orderType,
			Quantity:     qty,
			StopPrice:    r.money.FormatPrice(pos.Key.Symbol, triggerPrice),
			ReduceOnly:   true,
		}
		if !isStop && sym.OrderMode == config.OrderModeLimit {
			params.Type = futures.OrderTypeTakeProfit
			params.Price = r.money.FormatPrice(pos.Key.Symbol, limitPrice)
			params.TimeInForce = futures.TimeInForceTypeGTC
		}
		_, err := r.client.PlaceOrder(ctx, params)
		return err
	}

	err := place(hedge)
	if err == nil {
		return nil
	}

	classified := xerrors.Classify("placeProtective", pos.Key.Symbol, err)
	if classified == nil || classified.Kind != xerrors.KindPositionModeMismatch {
		return err
	}

	// Flip for retry only; persist on success, then re-fetch the venue's
	// position mode either way (§4.I).
	retryErr := place(!hedge)
	if retryErr == nil {
		r.mu.Lock()
		r.hedgeMode = !hedge
		r.hedgeModeKnown = true
		r.mu.Unlock()
	}
	if err := r.loadPositionMode(ctx); err != nil {
		log.Warn().Err(err).Msg("reconciler: could not refresh position mode after mismatch")
	}
	return retryErr
}

// cancelExtras implements §4.I step 3d: keep the order whose quantity best
// matches |amount|, tie-break by oldest orderId, cancel the rest.
func (r *Reconciler) cancelExtras(ctx context.Context, symbol string, candidates []*futures.Order, amount decimal.Decimal, logger zerolog.Logger) {
	sort.Slice(candidates, func(i, j int) bool {
		qi, _ := decimal.NewFromString(candidates[i].OrigQuantity)
		qj, _ := decimal.NewFromString(candidates[j].OrigQuantity)
		di := qi.Sub(amount).Abs()
		dj := qj.Sub(amount).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return candidates[i].OrderID < candidates[j].OrderID
	})

	for _, extra := range candidates[1:] {
		if err := r.client.CancelOrder(ctx, symbol, extra.OrderID); err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Int64("orderId", extra.OrderID).Msg("failed to cancel duplicate protective order")
			continue
		}
		r.publish(Event{Kind: EventOrderCancelled, Symbol: symbol, Message: "duplicate protective order cancelled"})
	}
}

// repriceIfDrifted implements §4.I step 3e: if the remaining protective
// order's quantity differs from the position by more than one step, cancel
// and re-place with the correct quantity.
func (r *Reconciler) repriceIfDrifted(ctx context.Context, pos Position, sym config.Symbol, order *futures.Order, isStop bool, logger zerolog.Logger) {
	qty, err := decimal.NewFromString(order.OrigQuantity)
	if err != nil {
		return
	}
	step := r.money.Profile(pos.Key.Symbol).StepSize
	if qty.Sub(pos.Amount).Abs().LessThanOrEqual(step) {
		return
	}

	if err := r.client.CancelOrder(ctx, pos.Key.Symbol, order.OrderID); err != nil {
		logger.Warn().Err(err).Str("symbol", pos.Key.Symbol).Msg("failed to cancel drifted protective order")
		return
	}
	r.publish(Event{Kind: EventOrderCancelled, Symbol: pos.Key.Symbol, Message: "protective order quantity drifted, re-placing"})

	hedge := r.isHedgeMode()
	if err := r.placeProtective(ctx, pos, sym, hedge, isStop); err != nil {
		logger.Warn().Err(err).Str("symbol", pos.Key.Symbol).Msg("failed to re-place drifted protective order")
	}
}

// reapOrphans implements §4.I step 4: cancel reduce-only orders whose
// (symbol, side) corresponds to no current position.
func (r *Reconciler) reapOrphans(ctx context.Context, positions []Position, orders []*futures.Order, hedge bool, logger zerolog.Logger) {
	live := make(map[PositionKey]bool, len(positions))
	for _, p := range positions {
		live[p.Key] = true
	}

	for _, o := range orders {
		if !o.ReduceOnly || (!isStopOrder(o.Type) && !isTakeProfitOrder(o.Type)) {
			continue
		}
		side := Long
		if o.Side == futures.SideTypeBuy {
			side = Short
		}
		key := PositionKey{Symbol: o.Symbol, Side: side}
		if live[key] {
			continue
		}
		if err := r.client.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			logger.Warn().Err(err).Str("symbol", o.Symbol).Int64("orderId", o.OrderID).Msg("orphan reaper: cancel failed")
			continue
		}
		r.publish(Event{Kind: EventOrderCancelled, Symbol: o.Symbol, Message: "orphaned protective order reaped"})
	}
}

// HandleUserEvent processes a user-data-stream event in-line (§4.I step 6),
// keyed loosely so it can be fed from any wire decoding layer: kind is
// "ORDER_TRADE_UPDATE" or "ACCOUNT_UPDATE".
func (r *Reconciler) HandleUserEvent(kind, symbol, orderStatus string) {
	switch kind {
	case "ORDER_TRADE_UPDATE":
		switch orderStatus {
		case "FILLED":
			r.publish(Event{Kind: EventOrderFilled, Symbol: symbol, Message: "order filled"})
		case "CANCELED", "EXPIRED":
			r.publish(Event{Kind: EventOrderCancelled, Symbol: symbol, Message: "order cancelled"})
		}
	case "ACCOUNT_UPDATE":
		r.publish(Event{Kind: EventPositionChanged, Symbol: symbol, Message: "position changed"})
	}
}

// RunUserStream maintains the venue's user-data WebSocket (§4.I step 6): it
// holds a listen key alive with a keepalive ticker and reconnects the socket
// with the same bounded backoff as the liquidation ingest, decoding
// ORDER_TRADE_UPDATE and ACCOUNT_UPDATE frames into HandleUserEvent calls so
// Hunter's pending-order reservations clear on fill instead of waiting on
// the TTL sweep.
func (r *Reconciler) RunUserStream(ctx context.Context) error {
	logger := log.With().Str("component", "reconciler-userstream").Logger()
	b := &backoff.Backoff{Min: 5 * time.Second, Max: 60 * time.Second, Factor: 2}
	dialer := websocket.DefaultDialer

	for {
		if ctx.Err() != nil {
			return nil
		}

		listenKey, err := r.client.StartUserStream(ctx)
		if err != nil {
			wait := b.Duration()
			logger.Warn().Err(err).Dur("retryIn", wait).Msg("listen key creation failed")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		connCtx, cancel := context.WithCancel(ctx)
		conn, _, err := dialer.DialContext(connCtx, userStreamWSBase+listenKey, nil)
		if err != nil {
			cancel()
			_ = r.client.CloseUserStream(ctx, listenKey)
			wait := b.Duration()
			logger.Warn().Err(err).Dur("retryIn", wait).Msg("user-data stream connect failed")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		logger.Info().Msg("user-data stream connected")
		b.Reset()

		keepAliveDone := make(chan struct{})
		go r.keepAliveUserStream(connCtx, listenKey, logger, keepAliveDone)

		r.userStreamReadLoop(connCtx, conn, logger)

		cancel()
		<-keepAliveDone
		_ = r.client.CloseUserStream(ctx, listenKey)

		if ctx.Err() != nil {
			return nil
		}
		wait := b.Duration()
		logger.Warn().Dur("retryIn", wait).Msg("user-data stream disconnected")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Reconciler) keepAliveUserStream(ctx context.Context, listenKey string, logger zerolog.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(listenKeyKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.KeepAliveUserStream(ctx, listenKey); err != nil {
				logger.Warn().Err(err).Msg("listen key keepalive failed")
			}
		}
	}
}

func (r *Reconciler) userStreamReadLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warn().Err(err).Msg("user-data stream read error, reconnecting")
			return
		}
		r.dispatchUserStreamFrame(message, logger)
	}
}

// dispatchUserStreamFrame decodes the two user-data-stream event shapes the
// venue sends (grounded on the same tagged-union approach as the
// liquidation ingest's forceOrderFrame) and routes them into HandleUserEvent.
func (r *Reconciler) dispatchUserStreamFrame(message []byte, logger zerolog.Logger) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Debug().Err(err).Msg("malformed user-data frame, dropping")
		return
	}

	switch envelope.EventType {
	case "ORDER_TRADE_UPDATE":
		var frame struct {
			Order struct {
				Symbol string `json:"s"`
				Status string `json:"X"`
			} `json:"o"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Debug().Err(err).Msg("unparseable order-trade-update frame, dropping")
			return
		}
		r.HandleUserEvent(envelope.EventType, frame.Order.Symbol, frame.Order.Status)
	case "ACCOUNT_UPDATE":
		var frame struct {
			Update struct {
				Positions []struct {
					Symbol string `json:"s"`
				} `json:"P"`
			} `json:"a"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Debug().Err(err).Msg("unparseable account-update frame, dropping")
			return
		}
		if len(frame.Update.Positions) == 0 {
			r.HandleUserEvent(envelope.EventType, "", "")
			return
		}
		for _, p := range frame.Update.Positions {
			r.HandleUserEvent(envelope.EventType, p.Symbol, "")
		}
	}
}
