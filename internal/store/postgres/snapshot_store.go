package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore, keeping the most recent
// snapshots as JSONB rows.
type SnapshotStore struct {
	pool *pgxpool.Pool
	keep int
}

// NewSnapshotStore creates a SnapshotStore that retains the newest keep
// snapshots (all of them when keep <= 0).
func NewSnapshotStore(pool *pgxpool.Pool, keep int) *SnapshotStore {
	return &SnapshotStore{pool: pool, keep: keep}
}

// Save stores snap and prunes older rows beyond the retention count.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: encode snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (id, seq, taken_at, body) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET seq = EXCLUDED.seq, taken_at = EXCLUDED.taken_at, body = EXCLUDED.body`,
		snap.ID, snap.Seq, snap.TakenAt, body,
	); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.ID, err)
	}

	if s.keep > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM snapshots WHERE id NOT IN (
				SELECT id FROM snapshots ORDER BY seq DESC, taken_at DESC LIMIT $1)`,
			s.keep,
		); err != nil {
			return fmt.Errorf("postgres: prune snapshots: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Latest returns the newest snapshot or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM snapshots ORDER BY seq DESC, taken_at DESC LIMIT 1`,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return snap, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
