package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// EventStore implements domain.EventStore. Rows are keyed by the engine's
// sequence number, so re-appending an already stored event is a no-op.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `seq, id, kind, entity_type, entity_id, actor, fields, at`

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e      domain.Event
			kind   string
			actor  string
			fields []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.EntityType, &e.EntityID, &actor, &fields, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Actor = common.HexToAddress(actor)
		e.At = e.At.UTC()
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("postgres: decode event %d fields: %w", e.Seq, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Append inserts events in one batch.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	const insert = `
		INSERT INTO events (seq, id, kind, entity_type, entity_id, actor, fields, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("postgres: encode event %d fields: %w", e.Seq, err)
		}
		if e.Fields == nil {
			fields = []byte("{}")
		}
		batch.Queue(insert, e.Seq, e.ID, string(e.Kind), e.EntityType, e.EntityID, e.Actor.Hex(), fields, e.At)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append events: %w", err)
		}
	}
	return nil
}

// ListByEntity returns one entity's events in sequence order.
func (s *EventStore) ListByEntity(ctx context.Context, entityType string, entityID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	q := newQuery(`SELECT `+eventSelectCols+` FROM events WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID)
	q.window(opts, "at", "seq ASC")

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", domain.EntityKeyOf(entityType, entityID), err)
	}
	return scanEventRows(rows)
}

// List returns events across all entities in sequence order.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	q := newQuery(`SELECT ` + eventSelectCols + ` FROM events WHERE TRUE`)
	q.window(opts, "at", "seq ASC")

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return scanEventRows(rows)
}

// LastSeq returns the highest stored sequence, or 0 when empty.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	return uint64(seq), nil
}

// ListBefore returns events recorded strictly before the cutoff.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE at < $1 ORDER BY seq ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEventRows(rows)
}

// DeleteThrough removes events with seq <= lastSeq and returns the count.
// Callers prune only what has already been archived.
func (s *EventStore) DeleteThrough(ctx context.Context, lastSeq uint64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE seq <= $1`, lastSeq)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune events through %d: %w", lastSeq, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.EventStore = (*EventStore)(nil)
