// Package errlog defines the Sink interface the core depends on (§6)
// and an in-memory, de-duplicating implementation; writes are not
// rate-limited. The
// persistent SQLite-backed store is an external collaborator out of scope
// here (see SPEC_FULL.md §1) — any component satisfying this interface can
// stand in for it.
package errlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cj4c0b1/aster-lick-hunter-node-sub002/internal/xerrors"
)

// Record is the logical persisted error-log schema from §6.
type Record struct {
	Timestamp    time.Time
	ErrorType    xerrors.Kind
	ErrorCode    int
	Message      string
	StackTrace   string
	Component    string
	Symbol       string
	UserAction   string
	Severity     xerrors.Severity
	SessionID    string
	Resolved     bool
	Details      map[string]interface{}
	occurrences  int
	firstSeen    time.Time
	lastSeen     time.Time
}

// Sink is the interface the core calls to persist error records. A
// SQLite-backed (or any other durable) implementation lives outside this
// module; RingSink below satisfies it for standalone operation and tests.
type Sink interface {
	Record(ctx context.Context, rec Record) error
	Recent(limit int) []Record
	Clear()
}

const dedupWindow = 60 * time.Second

type dedupKey struct {
	component string
	symbol    string
	errorType xerrors.Kind
	message   string
}

// RingSink is a bounded in-memory Sink with 60s de-duplication
// collapsing repeats of the same (component, symbol, kind, message) into a
// counted aggregate, per §7.
type RingSink struct {
	mu        sync.Mutex
	sessionID string
	capacity  int
	records   []Record
	dedup     map[dedupKey]int // index into records
}

func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 500
	}
	return &RingSink{
		sessionID: uuid.NewString(),
		capacity:  capacity,
		dedup:     make(map[dedupKey]int),
	}
}

func (s *RingSink) Record(ctx context.Context, rec Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SessionID = s.sessionID
	now := time.Now()
	rec.Timestamp = now

	key := dedupKey{component: rec.Component, symbol: rec.Symbol, errorType: rec.ErrorType, message: rec.Message}
	if idx, ok := s.dedup[key]; ok {
		existing := &s.records[idx]
		if now.Sub(existing.lastSeen) <= dedupWindow {
			existing.occurrences++
			existing.lastSeen = now
			return nil
		}
	}

	rec.occurrences = 1
	rec.firstSeen = now
	rec.lastSeen = now

	if len(s.records) >= s.capacity {
		s.records = s.records[1:]
		s.reindex()
	}
	s.records = append(s.records, rec)
	s.dedup[key] = len(s.records) - 1
	return nil
}

func (s *RingSink) reindex() {
	s.dedup = make(map[dedupKey]int, len(s.records))
	for i, r := range s.records {
		key := dedupKey{component: r.Component, symbol: r.Symbol, errorType: r.ErrorType, message: r.Message}
		s.dedup[key] = i
	}
}

// Recent returns up to limit of the most recent records, newest last.
func (s *RingSink) Recent(limit int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, limit)
	copy(out, s.records[len(s.records)-limit:])
	return out
}

// Clear removes all persisted records (§6 DELETE /errors).
func (s *RingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dedup = make(map[dedupKey]int)
}
