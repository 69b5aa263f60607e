// Package httpapi implements the read-only HTTP/WS façade over the engine's
// status broadcaster (§4.L, §6): positions, liquidations, VWAP, symbol
// config, income, and error-log endpoints, plus a WebSocket upgrade for live
// push. Authentication is a single static operator token compared in
// constant time — no user management, no multi-tenant auth, unlike the
// donor's Firebase-backed services/user.go middleware (see DESIGN.md).
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/broadcast"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/config"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/errlog"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/exchange"
	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/vwap"
)

// writeWait/pongWait/pingPeriod mirror the donor's Hub heartbeat (hub.go).
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the read-only REST+WS surface. It never mutates engine
// state directly; POST /errors/test and DELETE /errors touch only the error
// sink, not trading state.
type Server struct {
	token       string
	store       *config.Store
	client      exchange.API
	vwapStream  *vwap.Streamer
	broadcaster *broadcast.Broadcaster
	errors      errlog.Sink

	mux *http.ServeMux
}

func New(token string, store *config.Store, client exchange.API, vwapStream *vwap.Streamer, b *broadcast.Broadcaster, sink errlog.Sink) *Server {
	s := &Server{token: token, store: store, client: client, vwapStream: vwapStream, broadcaster: b, errors: sink}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /positions", s.auth(s.handlePositions))
	s.mux.HandleFunc("GET /liquidations", s.auth(s.handleLiquidations))
	s.mux.HandleFunc("GET /vwap/{symbol}", s.auth(s.handleVWAP))
	s.mux.HandleFunc("GET /symbols/{symbol}", s.auth(s.handleSymbol))
	s.mux.HandleFunc("GET /income", s.auth(s.handleIncome))
	s.mux.HandleFunc("POST /errors/test", s.auth(s.handleErrorsTest))
	s.mux.HandleFunc("DELETE /errors", s.auth(s.handleErrorsClear))
	s.mux.HandleFunc("GET /ws", s.auth(s.handleWebSocket))
}

// auth enforces the single static operator token from the Authorization
// header ("Bearer <token>"), compared in constant time.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.token
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("httpapi: failed to encode response")
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.client.Positions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, positions)
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	snap := s.broadcaster.Snapshot(broadcast.TopicLiquidation)
	if limit < len(snap) {
		snap = snap[len(snap)-limit:]
	}
	writeJSON(w, snap)
}

func (s *Server) handleVWAP(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	snap, fresh := s.vwapStream.Current(symbol)
	writeJSON(w, map[string]interface{}{"symbol": symbol, "vwap": snap.VWAP, "timestamp": snap.Timestamp, "fresh": fresh})
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	cfg, ok := s.store.Symbol(symbol)
	if !ok {
		http.Error(w, "symbol not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, cfg)
}

func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	var start, end int64
	if v := r.URL.Query().Get("start"); v != "" {
		start, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("range"); v != "" {
		spans := map[string]time.Duration{"24h": 24 * time.Hour, "7d": 7 * 24 * time.Hour, "30d": 30 * 24 * time.Hour}
		span, ok := spans[v]
		if !ok {
			http.Error(w, "range must be 24h, 7d or 30d", http.StatusBadRequest)
			return
		}
		end = time.Now().UnixMilli()
		start = end - span.Milliseconds()
	}
	income, err := s.client.Income(r.Context(), symbol, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, income)
}

func (s *Server) handleErrorsTest(w http.ResponseWriter, r *http.Request) {
	_ = s.errors.Record(r.Context(), errlog.Record{Component: "httpapi", Message: "operator-triggered test error"})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleErrorsClear(w http.ResponseWriter, r *http.Request) {
	s.errors.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket upgrades to a push connection replaying the requested
// topic's ring buffer, then streaming live events, with the donor's
// ping/pong heartbeat discipline (hub.go).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := broadcast.Topic(r.URL.Query().Get("topic"))
	if topic == "" {
		topic = broadcast.TopicLiquidation
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, msg := range s.broadcaster.Snapshot(topic) {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	sub := s.broadcaster.Subscribe(topic)
	defer sub.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
