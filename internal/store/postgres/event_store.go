package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `seq, tx_id::text, kind, payload, at`

func scanEventRows(rows pgx.Rows) ([]domain.StoredEvent, error) {
	var events []domain.StoredEvent
	for rows.Next() {
		var e domain.StoredEvent
		var kind string
		if err := rows.Scan(&e.Seq, &e.TxID, &kind, &e.Payload, &e.At); err != nil {
			return nil, err
		}
		e.Kind = domain.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Append inserts envelopes in a single batch. Re-appending a sequence number
// that already exists is a no-op.
func (s *EventStore) Append(ctx context.Context, envs []domain.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO market_events (seq, tx_id, kind, payload, at)
		VALUES ($1, $2::text::uuid, $3, $4, $5)
		ON CONFLICT (seq) DO NOTHING`

	for _, env := range envs {
		payload, err := json.Marshal(env.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %d: %w", env.Seq, err)
		}
		batch.Queue(query, int64(env.Seq), env.TxID, string(env.Kind), payload, env.At)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range envs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event batch item %d: %w", i, err)
		}
	}
	return nil
}

// List returns events newest first with pagination and optional time
// filtering.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.StoredEvent, error) {
	query, args := withListOpts(`SELECT `+eventSelectCols+` FROM market_events WHERE 1=1`, nil, opts, "at", "seq DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListBefore returns all events committed strictly before the given time,
// oldest first (for archiving).
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.StoredEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM market_events WHERE at < $1 ORDER BY seq ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// DeleteBefore deletes all events committed before the given time. Returns
// the number deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_events WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LastSeq returns the highest stored sequence number, or 0 when the log is
// empty.
func (s *EventStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM market_events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	return seq, nil
}
