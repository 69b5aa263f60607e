// Package xerrors implements the typed error taxonomy the engine uses to
// classify everything that can go wrong talking to the venue, rather than
// branching on error message substrings.
package xerrors

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/adshao/go-binance/v2/futures"
)

// Kind is a disjoint classification of failures the engine can recover
// from, retry, or must surface to the operator.
type Kind string

const (
	KindNotional            Kind = "Notional"
	KindPrecision           Kind = "Precision"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindSymbolUnknown       Kind = "SymbolUnknown"
	KindRateLimited         Kind = "RateLimited"
	KindPositionModeMismatch Kind = "PositionModeMismatch"
	KindReduceOnlyReject    Kind = "ReduceOnlyReject"
	KindOrderWouldTrigger   Kind = "OrderWouldTrigger"
	KindInvalidCredentials  Kind = "InvalidCredentials"
	KindNetwork             Kind = "Network"
	KindParseError          Kind = "ParseError"
	KindProtocol            Kind = "Protocol"
	KindConfiguration       Kind = "Configuration"
)

// Severity mirrors the derivation rule in the error handling design: structural
// failures are critical, trading rejects are high, retry-class issues are
// medium, parse/housekeeping noise is low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// TradingError is the single error type every component in the engine
// branches on via errors.As, instead of string-matching venue messages.
type TradingError struct {
	Kind     Kind
	Code     int
	Op       string
	Symbol   string
	Msg      string
	Err      error
	Severity Severity
}

func (e *TradingError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s[%s]: %s (code=%d, op=%s)", e.Kind, e.Symbol, e.Msg, e.Code, e.Op)
	}
	return fmt.Sprintf("%s: %s (code=%d, op=%s)", e.Kind, e.Msg, e.Code, e.Op)
}

func (e *TradingError) Unwrap() error { return e.Err }

// Retryable reports whether the propagation policy retries this kind inside
// the exchange client itself (network / rate-limit), as opposed to kinds the
// Hunter recovers from locally or kinds that must bubble up untouched.
func (e *TradingError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}

// LocallyRecoverable reports whether the Hunter may re-snap and retry as a
// market order once, per §4.H step 12.
func (e *TradingError) LocallyRecoverable() bool {
	switch e.Kind {
	case KindPrecision, KindOrderWouldTrigger:
		return true
	default:
		return false
	}
}

func severityFor(k Kind) Severity {
	switch k {
	case KindInvalidCredentials, KindConfiguration:
		return SeverityCritical
	case KindNotional, KindInsufficientBalance, KindReduceOnlyReject, KindOrderWouldTrigger, KindSymbolUnknown:
		return SeverityHigh
	case KindRateLimited, KindNetwork, KindPositionModeMismatch:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// New builds a TradingError, deriving severity from kind.
func New(kind Kind, op, symbol, msg string, err error) *TradingError {
	return &TradingError{
		Kind:     kind,
		Op:       op,
		Symbol:   symbol,
		Msg:      msg,
		Err:      err,
		Severity: severityFor(kind),
	}
}

// Classify maps a failure from any exchange-client call into a *TradingError.
// It inspects, in order: context cancellation/deadlines, plain network
// errors, and *futures.APIError numeric codes (the venue's JSON {code,msg}
// body). An error already wrapping a *TradingError is returned unchanged.
func Classify(op, symbol string, err error) *TradingError {
	if err == nil {
		return nil
	}

	var existing *TradingError
	if errors.As(err, &existing) {
		return existing
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(KindNetwork, op, symbol, "request cancelled or timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return New(KindNetwork, op, symbol, "network failure", err)
	}

	var apiErr *futures.APIError
	if errors.As(err, &apiErr) {
		te := classifyAPIError(op, symbol, apiErr)
		te.Code = int(apiErr.Code)
		return te
	}

	return New(KindProtocol, op, symbol, err.Error(), err)
}

// classifyAPIError maps Binance-Futures-style numeric error codes into the
// typed taxonomy. Codes follow the public Binance USDⓈ-M Futures error code
// table; unknown codes fall back to Protocol.
func classifyAPIError(op, symbol string, apiErr *futures.APIError) *TradingError {
	msg := apiErr.Message
	switch apiErr.Code {
	case -1013, -4003, -4004, -4164: // LOT_SIZE / PRICE_FILTER / tick-step rejects
		return New(KindPrecision, op, symbol, msg, apiErr)
	case -2019: // Margin is insufficient
		return New(KindInsufficientBalance, op, symbol, msg, apiErr)
	case -1121: // Invalid symbol
		return New(KindSymbolUnknown, op, symbol, msg, apiErr)
	case -1003, 429, 418: // too many requests / IP ban
		return New(KindRateLimited, op, symbol, msg, apiErr)
	case -4061: // order's position side does not match user's setting
		return New(KindPositionModeMismatch, op, symbol, msg, apiErr)
	case -2022: // ReduceOnly Order is rejected
		return New(KindReduceOnlyReject, op, symbol, msg, apiErr)
	case -2021: // order would immediately trigger
		return New(KindOrderWouldTrigger, op, symbol, msg, apiErr)
	case -1021: // timestamp outside recvWindow
		return New(KindInvalidCredentials, op, symbol, msg, apiErr)
	case -2014, -2015, -1022: // bad API key format / invalid key, IP, permission / signature invalid
		return New(KindInvalidCredentials, op, symbol, msg, apiErr)
	case -4131: // notional would be less than minNotional
		return New(KindNotional, op, symbol, msg, apiErr)
	default:
		return New(KindProtocol, op, symbol, fmt.Sprintf("unrecognized venue code %d: %s", apiErr.Code, msg), apiErr)
	}
}
