package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// EventStore implements domain.EventStore on the engine_events table.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const insertEvent = `
	INSERT INTO engine_events (invocation_id, idx, contract, name, market_id, ts, payload)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	ON CONFLICT (invocation_id, idx) DO NOTHING`

// Deliver appends the events of one committed invocation in a single batch.
// Redelivery of the same invocation is a no-op.
func (s *EventStore) Deliver(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		rec, err := ev.Record()
		if err != nil {
			return fmt.Errorf("postgres: encode event %s: %w", ev.Name, err)
		}
		batch.Queue(insertEvent,
			rec.InvocationID, rec.Index, rec.Contract, rec.Name, rec.MarketID, rec.Timestamp, []byte(rec.Payload))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert %d events: %w", len(events), err)
	}
	return nil
}

const selectEvents = `SELECT id, invocation_id, idx, contract, name, COALESCE(market_id, ''), ts, payload, created_at FROM engine_events`

// List returns events newest first with optional market and name filters.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.EventRecord, error) {
	query := selectEvents + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.MarketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, opts.MarketID)
		argIdx++
	}
	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, opts.Name)
		argIdx++
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return collectEvents(rows)
}

// ListBefore returns up to limit of the oldest events created before the
// cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EventRecord, error) {
	query := selectEvents + ` WHERE created_at < $1 ORDER BY created_at ASC, id ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectEvents(rows)
}

// DeleteBefore removes every event created before the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM engine_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectEvents(rows pgx.Rows) ([]domain.EventRecord, error) {
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			e       domain.EventRecord
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.InvocationID, &e.Index, &e.Contract, &e.Name,
			&e.MarketID, &e.Timestamp, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
