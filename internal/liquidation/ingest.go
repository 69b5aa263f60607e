package liquidation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// forceOrderFrame mirrors the venue's !forceOrder@arr payload shape; field
// tags match the wire format exactly (grounded on the donor's
// binanceLiquidationMsg in main.go).
type forceOrderFrame struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Price  string `json:"p"`
		Qty    string `json:"q"`
		Time   int64  `json:"T"`
	} `json:"o"`
}

// Ingest owns the single WebSocket to the venue's forced-order stream.
type Ingest struct {
	url      string
	paper    bool
	symbols  []string
	dialer   *websocket.Dialer
	handlers []func(Event)
}

// New builds an Ingest. url is the venue's force-order stream endpoint
// (e.g. "wss://fstream.binance.com/ws/!forceOrder@arr"). When paper is true
// and no credentials are configured, Run emits synthetic events instead of
// dialing the socket (§4.C "Simulation mode").
func New(url string, paper bool, symbols []string) *Ingest {
	return &Ingest{
		url:     url,
		paper:   paper,
		symbols: symbols,
		dialer:  websocket.DefaultDialer,
	}
}

// Subscribe registers a callback invoked for every normalized event, in
// arrival order, from the ingest goroutine. Callbacks run synchronously, so a
// slow callback delays the reading of the next frame.
func (in *Ingest) Subscribe(fn func(Event)) {
	in.handlers = append(in.handlers, fn)
}

func (in *Ingest) publish(ev Event) {
	for _, h := range in.handlers {
		h(ev)
	}
}

// Run blocks until ctx is cancelled, reconnecting with bounded exponential
// backoff (5s initial, doubling, capped at 60s, reset on a successful open)
// per §4.C.
func (in *Ingest) Run(ctx context.Context) error {
	if in.paper {
		return in.runSimulated(ctx)
	}

	logger := log.With().Str("component", "liquidation-ingest").Logger()
	b := &backoff.Backoff{Min: 5 * time.Second, Max: 60 * time.Second, Factor: 2}

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := in.dialer.DialContext(ctx, in.url, nil)
		if err != nil {
			wait := b.Duration()
			logger.Warn().Err(err).Dur("retryIn", wait).Msg("connect failed")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		logger.Info().Msg("connected")
		b.Reset()
		in.readLoop(ctx, conn, logger)

		if ctx.Err() != nil {
			return nil
		}
		wait := b.Duration()
		logger.Warn().Dur("retryIn", wait).Msg("disconnected")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

func (in *Ingest) readLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warn().Err(err).Msg("read error, reconnecting")
			return
		}

		var frame forceOrderFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Debug().Err(err).Msg("malformed frame, dropping")
			continue
		}
		if frame.EventType != "forceOrder" {
			continue
		}

		ev, err := normalize(frame)
		if err != nil {
			logger.Debug().Err(err).Msg("unparseable force-order payload, dropping")
			continue
		}
		in.publish(ev)
	}
}

func normalize(frame forceOrderFrame) (Event, error) {
	price, err := decimal.NewFromString(frame.Order.Price)
	if err != nil {
		return Event{}, fmt.Errorf("liquidation: bad price %q: %w", frame.Order.Price, err)
	}
	qty, err := decimal.NewFromString(frame.Order.Qty)
	if err != nil {
		return Event{}, fmt.Errorf("liquidation: bad qty %q: %w", frame.Order.Qty, err)
	}

	side := SideBuy
	if frame.Order.Side == "SELL" {
		side = SideSell
	}

	return Event{
		Symbol:     frame.Order.Symbol,
		Side:       side,
		Price:      price,
		FilledQty:  qty,
		VolumeUSDT: price.Mul(qty),
		EventTime:  time.UnixMilli(frame.Order.Time),
	}, nil
}

// runSimulated emits randomized synthetic events every 5-10s uniformly over
// configured symbols, with plausible prices and sizes, per §4.C's
// simulation-mode requirement for paper trading without credentials.
func (in *Ingest) runSimulated(ctx context.Context) error {
	if len(in.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	logger := log.With().Str("component", "liquidation-ingest").Str("mode", "simulated").Logger()
	logger.Info().Msg("paper mode: emitting synthetic liquidations")

	for {
		waitSecs := 5 + rand.Intn(6)
		select {
		case <-time.After(time.Duration(waitSecs) * time.Second):
		case <-ctx.Done():
			return nil
		}

		symbol := in.symbols[rand.Intn(len(in.symbols))]
		side := SideSell
		if rand.Intn(2) == 0 {
			side = SideBuy
		}
		price := decimal.NewFromFloat(1 + rand.Float64()*50000)
		qty := decimal.NewFromFloat(0.01 + rand.Float64()*2)

		in.publish(Event{
			Symbol:     symbol,
			Side:       side,
			Price:      price,
			FilledQty:  qty,
			VolumeUSDT: price.Mul(qty),
			EventTime:  time.Now(),
		})
	}
}
