package events

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/axiom-labs/ivcud/pkg/errtype"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore is the durable Store backed by database/sql + lib/pq. It
// maintains a denormalized ivcu_projections row alongside the append-only
// log so reads don't have to refold history on every call.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// PostgresOption configures a PostgresStore at construction time.
type PostgresOption func(*PostgresStore)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) PostgresOption {
	return func(s *PostgresStore) { s.logger = l }
}

// NewPostgresStore opens a connection pool against dsn, applies embedded
// migrations, and returns a ready Store.
func NewPostgresStore(ctx context.Context, dsn string, maxConns, minConns int, maxIdleTime, maxLifetime time.Duration, opts ...PostgresOption) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &errtype.ConfigError{Reason: "opening database connection", Cause: err}
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(maxIdleTime)
	db.SetConnMaxLifetime(maxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, &errtype.ConfigError{Reason: "pinging database", Cause: err}
	}

	s := &PostgresStore{
		db:     db,
		logger: log.New(os.Stderr, "[events] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("events: reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		raw, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("events: reading migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("events: applying migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, expectedVersion int, eventType Type, payload any, actorID string) (Event, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshaling %s payload: %w", eventType, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("events: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, aggregateID); err != nil {
		return Event{}, fmt.Errorf("events: locking aggregate: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM ivcu_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return Event{}, fmt.Errorf("events: reading current version: %w", err)
	}

	if current != expectedVersion {
		return Event{}, &errtype.ConcurrencyConflict{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ivcu_events (event_id, aggregate_id, sequence_number, event_type, payload, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.EventID, ev.AggregateID, ev.SequenceNumber, string(ev.EventType), []byte(ev.Payload), ev.ActorID, ev.Timestamp,
	)
	if err != nil {
		return Event{}, fmt.Errorf("events: inserting event: %w", err)
	}

	evs, err := s.eventsTx(ctx, tx, aggregateID)
	if err != nil {
		return Event{}, err
	}
	state, err := Fold(aggregateID, evs)
	if err != nil {
		return Event{}, err
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return Event{}, fmt.Errorf("events: marshaling projection: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ivcu_projections (aggregate_id, version, state, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (aggregate_id) DO UPDATE SET version = $2, state = $3, updated_at = $4`,
		aggregateID, state.Version, stateJSON, ev.Timestamp,
	)
	if err != nil {
		return Event{}, fmt.Errorf("events: upserting projection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("events: committing append: %w", err)
	}

	return ev, nil
}

func (s *PostgresStore) eventsTx(ctx context.Context, tx *sql.Tx, aggregateID string) ([]Event, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT event_id, aggregate_id, sequence_number, event_type, payload, actor_id, created_at
		 FROM ivcu_events WHERE aggregate_id = $1 ORDER BY sequence_number ASC`,
		aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("events: querying history: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) Events(ctx context.Context, aggregateID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, aggregate_id, sequence_number, event_type, payload, actor_id, created_at
		 FROM ivcu_events WHERE aggregate_id = $1 ORDER BY sequence_number ASC`,
		aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("events: querying history: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			ev        Event
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.AggregateID, &ev.SequenceNumber, &eventType, &payload, &ev.ActorID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("events: scanning row: %w", err)
		}
		ev.EventType = Type(eventType)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) State(ctx context.Context, aggregateID string) (State, error) {
	var stateJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM ivcu_projections WHERE aggregate_id = $1`, aggregateID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return State{AggregateID: aggregateID}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("events: reading projection: %w", err)
	}
	var state State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return State{}, fmt.Errorf("events: decoding projection: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) StateAt(ctx context.Context, aggregateID string, version int) (State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, aggregate_id, sequence_number, event_type, payload, actor_id, created_at
		 FROM ivcu_events WHERE aggregate_id = $1 AND sequence_number <= $2 ORDER BY sequence_number ASC`,
		aggregateID, version,
	)
	if err != nil {
		return State{}, fmt.Errorf("events: querying history: %w", err)
	}
	defer rows.Close()
	evs, err := scanEvents(rows)
	if err != nil {
		return State{}, err
	}
	return Fold(aggregateID, evs)
}

func (s *PostgresStore) Undo(ctx context.Context, aggregateID string, reason string) (Event, error) {
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

func (s *PostgresStore) CostLedger(ctx context.Context, aggregateID string) (CostSummary, error) {
	evs, err := s.Events(ctx, aggregateID)
	if err != nil {
		return CostSummary{}, err
	}
	return summarizeCosts(evs)
}

func (s *PostgresStore) AuditLog(ctx context.Context, aggregateID string, limit int) ([]AuditEntry, error) {
	query := `SELECT sequence_number, event_type, created_at, actor_id
	          FROM ivcu_events WHERE aggregate_id = $1 ORDER BY sequence_number DESC`
	args := []any{aggregateID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events: querying audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			entry     AuditEntry
			eventType string
		)
		if err := rows.Scan(&entry.Sequence, &eventType, &entry.Timestamp, &entry.Actor); err != nil {
			return nil, fmt.Errorf("events: scanning audit row: %w", err)
		}
		entry.Kind = Type(eventType)
		out = append(out, entry)
	}
	return out, rows.Err()
}
