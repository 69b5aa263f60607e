// Package config loads the engine's JSON configuration document, bootstraps
// venue credentials from a .env file the way the donor loader does, and
// watches the config file for hot-reloadable changes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PositionMode selects one-way vs hedge venue accounting.
type PositionMode string

const (
	PositionModeOneWay PositionMode = "one-way"
	PositionModeHedge  PositionMode = "hedge"
)

// OrderMode selects the Hunter's preferred placement style for a symbol.
type OrderMode string

const (
	OrderModeLimit  OrderMode = "limit"
	OrderModeMarket OrderMode = "market"
)

// APICredentials carries the venue key pair.
type APICredentials struct {
	APIKey    string `json:"apiKey"`
	SecretKey string `json:"secretKey"`
}

// Global holds account-wide settings.
type Global struct {
	PaperMode           bool         `json:"paperMode"`
	RiskPercent         float64      `json:"riskPercent"`
	PositionMode        PositionMode `json:"positionMode"`
	MaxOpenPositions    int          `json:"maxOpenPositions"`
	UseThresholdSystem  bool         `json:"useThresholdSystem"`
}

// Symbol holds the mutable, hot-reloadable per-symbol trading configuration
// from SPEC_FULL.md §3.
type Symbol struct {
	LongThresholdUSDT  decimal.Decimal `json:"longThresholdUsdt"`
	ShortThresholdUSDT decimal.Decimal `json:"shortThresholdUsdt"`
	Leverage           int             `json:"leverage"`
	LongTradeSizeUSDT  decimal.Decimal `json:"longTradeSizeUsdt"`
	ShortTradeSizeUSDT decimal.Decimal `json:"shortTradeSizeUsdt"`
	MaxMarginUSDT      decimal.Decimal `json:"maxMarginUsdt"`
	StopLossPercent    decimal.Decimal `json:"stopLossPercent"`
	TakeProfitPercent  decimal.Decimal `json:"takeProfitPercent"`
	OrderMode          OrderMode       `json:"orderMode"`
	LimitOffsetBps     decimal.Decimal `json:"limitOffsetBps"`
	MaxSlippageBps     decimal.Decimal `json:"maxSlippageBps"`
	PostOnly           bool            `json:"postOnly"`
	VWAPProtection     bool            `json:"vwapProtection"`
	VWAPBarSize        string          `json:"vwapBarSize"`
	VWAPLookback       int             `json:"vwapLookback"`
	UseThreshold       bool            `json:"useThreshold"`
	ThresholdWindowMs  int64           `json:"thresholdWindowMs"`
	CooldownMs         int64           `json:"cooldownMs"`
}

// Config is the whole JSON document described in SPEC_FULL.md §6.
type Config struct {
	API     APICredentials    `json:"api"`
	Global  Global            `json:"global"`
	Symbols map[string]Symbol `json:"symbols"`
}

// clone deep-copies a Config so the orchestrator can diff old vs new without
// aliasing map entries that are about to be replaced.
func (c *Config) clone() *Config {
	cp := *c
	cp.Symbols = make(map[string]Symbol, len(c.Symbols))
	for k, v := range c.Symbols {
		cp.Symbols[k] = v
	}
	return &cp
}

// Load bootstraps venue credentials from .env (if present, matching the
// donor's config/loader.go) and then reads and validates the JSON config
// file at path.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on existing environment and config file credentials")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.API.APIKey == "" {
		cfg.API.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if cfg.API.SecretKey == "" {
		cfg.API.SecretKey = os.Getenv("BINANCE_API_SECRET")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies the structural checks the orchestrator needs before
// trusting a config at load or hot-reload time. Failures are Configuration
// kind per the error taxonomy (classified by the caller).
func Validate(cfg *Config) error {
	if !cfg.Global.PaperMode && (cfg.API.APIKey == "" || cfg.API.SecretKey == "") {
		return fmt.Errorf("config: live mode requires api.apiKey and api.secretKey")
	}
	if cfg.Global.MaxOpenPositions <= 0 {
		return fmt.Errorf("config: global.maxOpenPositions must be positive")
	}
	if cfg.Global.PositionMode != PositionModeOneWay && cfg.Global.PositionMode != PositionModeHedge {
		return fmt.Errorf("config: global.positionMode must be one-way or hedge")
	}
	for sym, s := range cfg.Symbols {
		if s.Leverage < 1 || s.Leverage > 125 {
			return fmt.Errorf("config: %s leverage must be in [1,125]", sym)
		}
		if s.OrderMode != OrderModeLimit && s.OrderMode != OrderModeMarket {
			return fmt.Errorf("config: %s orderMode must be limit or market", sym)
		}
	}
	return nil
}

// Diff describes what changed between two Config snapshots, consumed by the
// orchestrator to apply hot-reload without a restart.
type Diff struct {
	AddedSymbols   []string
	RemovedSymbols []string
	ChangedSymbols []string
	GlobalChanged  bool
}

func diff(prev, next *Config) Diff {
	var d Diff
	for sym := range next.Symbols {
		if _, ok := prev.Symbols[sym]; !ok {
			d.AddedSymbols = append(d.AddedSymbols, sym)
			continue
		}
		// decimal.Decimal holds a *big.Int, so != would compare pointers;
		// the JSON encoding renders every decimal by value.
		pj, _ := json.Marshal(prev.Symbols[sym])
		nj, _ := json.Marshal(next.Symbols[sym])
		if string(pj) != string(nj) {
			d.ChangedSymbols = append(d.ChangedSymbols, sym)
		}
	}
	for sym := range prev.Symbols {
		if _, ok := next.Symbols[sym]; !ok {
			d.RemovedSymbols = append(d.RemovedSymbols, sym)
		}
	}
	d.GlobalChanged = prev.Global != next.Global
	return d
}

// Store is the hot-reloadable holder of the current Config, guarded by an
// RWMutex so readers (Hunter, reconciler, VWAP streamer workers) never block
// on each other and only briefly block behind a reload.
type Store struct {
	mu  sync.RWMutex
	cur *Config
}

func NewStore(initial *Config) *Store {
	return &Store{cur: initial}
}

// Current returns a defensive copy of the live config.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Symbol returns the per-symbol config and whether it is present.
func (s *Store) Symbol(symbol string) (Symbol, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.cur.Symbols[symbol]
	return sym, ok
}

// Apply validates and swaps in a new config, returning the diff for callers
// that want to log or react to specific changes.
func (s *Store) Apply(next *Config) (Diff, error) {
	if err := Validate(next); err != nil {
		return Diff{}, err
	}
	s.mu.Lock()
	prev := s.cur
	s.cur = next
	s.mu.Unlock()
	return diff(prev, next), nil
}
