// Package bolt persists snapshots and the event log in an embedded bbolt
// file, for single-node deployments without PostgreSQL.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketEvents    = []byte("events")
)

// Store wraps a bbolt database.
type Store struct {
	db   *bbolt.DB
	keep int
}

// Open opens or creates the database at path. keep bounds how many snapshots
// are retained (all when keep <= 0).
func Open(path string, keep int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSnapshots, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}

	return &Store{db: db, keep: keep}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// seqKey encodes seq big-endian so cursor order is sequence order.
func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Save stores snap keyed by its sequence and trims old snapshots.
func (s *Store) Save(_ context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("bolt: encode snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if err := b.Put(seqKey(snap.Seq), data); err != nil {
			return fmt.Errorf("bolt: put snapshot %s: %w", snap.ID, err)
		}
		if s.keep <= 0 {
			return nil
		}

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i < len(keys)-s.keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return fmt.Errorf("bolt: trim snapshots: %w", err)
			}
		}
		return nil
	})
}

// Latest returns the snapshot with the highest sequence or domain.ErrNotFound.
func (s *Store) Latest(_ context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(bucketSnapshots).Cursor().Last()
		if v == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(v, &snap)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Append stores events keyed by sequence. A sequence already stored keeps its
// first record, so redelivered batches are idempotent and never rewrite
// history.
func (s *Store) Append(_ context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		for _, e := range events {
			if b.Get(seqKey(e.Seq)) != nil {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("bolt: encode event %d: %w", e.Seq, err)
			}
			if err := b.Put(seqKey(e.Seq), data); err != nil {
				return fmt.Errorf("bolt: put event %d: %w", e.Seq, err)
			}
		}
		return nil
	})
}

// ListByEntity scans the log for one entity's events.
func (s *Store) ListByEntity(_ context.Context, entityType string, entityID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	return s.scan(opts, func(e domain.Event) bool {
		return e.EntityType == entityType && e.EntityID == entityID
	})
}

// List returns events in sequence order.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	return s.scan(opts, func(domain.Event) bool { return true })
}

// LastSeq returns the highest stored sequence, or 0 when empty.
func (s *Store) LastSeq(_ context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if k, _ := tx.Bucket(bucketEvents).Cursor().Last(); k != nil {
			seq = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return seq, err
}

func (s *Store) scan(opts domain.ListOpts, match func(domain.Event) bool) ([]domain.Event, error) {
	var out []domain.Event
	skipped := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e domain.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("bolt: decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if !match(e) {
				continue
			}
			if opts.Since != nil && e.At.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && e.At.After(*opts.Until) {
				continue
			}
			if skipped < opts.Offset {
				skipped++
				continue
			}
			out = append(out, e)
			if opts.Limit > 0 && len(out) == opts.Limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

var (
	_ domain.SnapshotStore = (*Store)(nil)
	_ domain.EventStore    = (*Store)(nil)
)
