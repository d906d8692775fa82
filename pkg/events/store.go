package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axiom-labs/ivcud/pkg/errtype"
)

// Store is the append-only event log contract (spec §4.1). Implementations
// must guarantee: sequence numbers are dense starting at 1 within an
// aggregate, concurrent appends to the same aggregate serialize around an
// expected_version check, and no event is ever mutated or deleted once
// appended.
type Store interface {
	// Append inserts a new event for aggregateID if its current version
	// equals expectedVersion, returning errtype.ConcurrencyConflict
	// otherwise. payload is marshaled to JSON.
	Append(ctx context.Context, aggregateID string, expectedVersion int, eventType Type, payload any, actorID string) (Event, error)

	// Events returns the full, ordered event history for aggregateID.
	Events(ctx context.Context, aggregateID string) ([]Event, error)

	// State folds the full event history for aggregateID into its current
	// projected read model.
	State(ctx context.Context, aggregateID string) (State, error)

	// StateAt folds only events up to and including version into the
	// projected read model, for point-in-time queries and debugging.
	StateAt(ctx context.Context, aggregateID string, version int) (State, error)

	// Undo appends a forward-only compensating INTENT_REFINED event that
	// clears the current selection; history is never rewritten (spec §4.1,
	// "no deletion").
	Undo(ctx context.Context, aggregateID string, reason string) (Event, error)

	// CostLedger summarizes every COST_INCURRED event recorded against
	// aggregateID (spec §4.1: total, count, first/last timestamp).
	CostLedger(ctx context.Context, aggregateID string) (CostSummary, error)

	// AuditLog returns the most recent limit events for aggregateID,
	// newest first, as the bounded {sequence, kind, ts, actor} history
	// spec §4.1 names. limit <= 0 means no bound.
	AuditLog(ctx context.Context, aggregateID string, limit int) ([]AuditEntry, error)
}

// CostSummary is the spec §4.1 cost_ledger aggregate: every caller gets the
// rollup, not a raw payload list to re-derive it from.
type CostSummary struct {
	Total     float64   `json:"total"`
	Count     int       `json:"count"`
	FirstTS   time.Time `json:"first_ts"`
	LastTS    time.Time `json:"last_ts"`
}

// AuditEntry is one bounded audit_log row (spec §4.1).
type AuditEntry struct {
	Sequence int       `json:"sequence"`
	Kind     Type      `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Actor    string    `json:"actor"`
}

// MemoryStore is an in-process Store backed by a map, used when no
// DATABASE_URL is configured (spec §9, development/test mode). It is safe
// for concurrent use.
type MemoryStore struct {
	locks *aggregateLocks

	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:  newAggregateLocks(),
		events: make(map[string][]Event),
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, expectedVersion int, eventType Type, payload any, actorID string) (Event, error) {
	lock := s.locks.forID(aggregateID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current := len(s.events[aggregateID])
	s.mu.RUnlock()

	if current != expectedVersion {
		return Event{}, &errtype.ConcurrencyConflict{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshaling %s payload: %w", eventType, err)
	}

	ev := Event{
		EventID:        uuid.NewString(),
		AggregateID:    aggregateID,
		SequenceNumber: current + 1,
		EventType:      eventType,
		Payload:        raw,
		Timestamp:      time.Now().UTC(),
		ActorID:        actorID,
	}

	s.mu.Lock()
	s.events[aggregateID] = append(s.events[aggregateID], ev)
	s.mu.Unlock()

	return ev, nil
}

func (s *MemoryStore) Events(ctx context.Context, aggregateID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[aggregateID]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *MemoryStore) State(ctx context.Context, aggregateID string) (State, error) {
	evs, err := s.Events(ctx, aggregateID)
	if err != nil {
		return State{}, err
	}
	return Fold(aggregateID, evs)
}

func (s *MemoryStore) StateAt(ctx context.Context, aggregateID string, version int) (State, error) {
	evs, err := s.Events(ctx, aggregateID)
	if err != nil {
		return State{}, err
	}
	cut := sort.Search(len(evs), func(i int) bool { return evs[i].SequenceNumber > version })
	return Fold(aggregateID, evs[:cut])
}

func (s *MemoryStore) Undo(ctx context.Context, aggregateID string, reason string) (Event, error) {
	state, err := s.State(ctx, aggregateID)
	if err != nil {
		return Event{}, err
	}
	payload := IntentRefinedPayload{
		NewIntent:     state.RawIntent,
		UndoSelection: true,
		Reason:        reason,
	}
	return s.Append(ctx, aggregateID, state.Version, IntentRefined, payload, "system:undo")
}

func (s *MemoryStore) CostLedger(ctx context.Context, aggregateID string) (CostSummary, error) {
	evs, err := s.Events(ctx, aggregateID)
	if err != nil {
		return CostSummary{}, err
	}
	return summarizeCosts(evs)
}

func (s *MemoryStore) AuditLog(ctx context.Context, aggregateID string, limit int) ([]AuditEntry, error) {
	evs, err := s.Events(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return auditEntries(evs, limit), nil
}

// summarizeCosts folds a dense event slice into the spec §4.1 cost_ledger
// aggregate, shared by both Store implementations.
func summarizeCosts(evs []Event) (CostSummary, error) {
	var summary CostSummary
	for _, ev := range evs {
		if ev.EventType != CostIncurred {
			continue
		}
		var p CostIncurredPayload
		if err := decode(ev, &p); err != nil {
			return CostSummary{}, err
		}
		amount, err := strconv.ParseFloat(p.AmountUSD, 64)
		if err != nil {
			return CostSummary{}, fmt.Errorf("events: bad cost amount %q: %w", p.AmountUSD, err)
		}
		summary.Total += amount
		summary.Count++
		if summary.Count == 1 {
			summary.FirstTS = ev.Timestamp
		}
		summary.LastTS = ev.Timestamp
	}
	return summary, nil
}

// auditEntries returns the newest limit events (limit <= 0 means every
// event) from a dense, ascending-ordered event slice, newest first.
func auditEntries(evs []Event, limit int) []AuditEntry {
	if limit > 0 && limit < len(evs) {
		evs = evs[len(evs)-limit:]
	}
	out := make([]AuditEntry, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		ev := evs[i]
		out = append(out, AuditEntry{
			Sequence:  ev.SequenceNumber,
			Kind:      ev.EventType,
			Timestamp: ev.Timestamp,
			Actor:     ev.ActorID,
		})
	}
	return out
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
