package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
)

// Snapshotter persists engine snapshots periodically and on shutdown, and
// restores the newest one at startup.
type Snapshotter struct {
	engine   *market.Engine
	store    domain.SnapshotStore
	archiver domain.Archiver
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex // serialises saves; guards lastSeq
	lastSeq uint64
}

// NewSnapshotter creates a Snapshotter. archiver may be nil.
func NewSnapshotter(
	engine *market.Engine,
	store domain.SnapshotStore,
	archiver domain.Archiver,
	interval time.Duration,
	logger *slog.Logger,
) *Snapshotter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{
		engine:   engine,
		store:    store,
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshotter")),
	}
}

// Restore loads the latest stored snapshot into the engine. When the store is
// empty it falls back to the newest archived snapshot; with neither the engine
// starts empty, which is not an error.
func (s *Snapshotter) Restore(ctx context.Context) error {
	snap, err := s.store.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) && s.archiver != nil {
		s.logger.InfoContext(ctx, "snapshotter: store empty, trying archive")
		snap, err = s.archiver.LatestSnapshot(ctx)
	}
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.InfoContext(ctx, "snapshotter: no snapshot found, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshotter: load latest: %w", err)
	}
	if err := s.engine.Restore(snap); err != nil {
		return fmt.Errorf("snapshotter: %w", err)
	}
	s.mu.Lock()
	s.lastSeq = snap.Seq
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "snapshotter: engine restored",
		slog.String("snapshot_id", snap.ID),
		slog.Uint64("seq", snap.Seq),
		slog.Int("properties", len(snap.Properties)),
	)
	return nil
}

// SaveNow stores a snapshot when events were committed since the last one.
// It reports whether a snapshot was written. It is safe to call concurrently
// with Run. A fenced engine is never saved, since another writer may already
// own the store.
func (s *Snapshotter) SaveNow(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine.Fenced() {
		return false, fmt.Errorf("snapshotter: save: %w", domain.ErrLockLost)
	}
	if s.engine.Seq() == s.lastSeq {
		return false, nil
	}
	snap := s.engine.Snapshot()
	if err := s.store.Save(ctx, snap); err != nil {
		return false, fmt.Errorf("snapshotter: save: %w", err)
	}
	s.lastSeq = snap.Seq
	s.logger.DebugContext(ctx, "snapshotter: snapshot saved",
		slog.String("snapshot_id", snap.ID),
		slog.Uint64("seq", snap.Seq),
	)
	return true, nil
}

// Archive uploads the current engine state to cold storage.
func (s *Snapshotter) Archive(ctx context.Context) (string, error) {
	if s.archiver == nil {
		return "", errors.New("snapshotter: no archiver configured")
	}
	path, err := s.archiver.ArchiveSnapshot(ctx, s.engine.Snapshot())
	if err != nil {
		return "", fmt.Errorf("snapshotter: archive: %w", err)
	}
	return path, nil
}

// Run saves on every tick until ctx is cancelled, then takes a final
// snapshot with a fresh deadline.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := s.SaveNow(saveCtx)
			if errors.Is(err, domain.ErrLockLost) {
				s.logger.Warn("snapshotter: engine fenced, final snapshot skipped")
				return nil
			}
			if err != nil {
				return err
			}
			s.logger.Info("snapshotter: final snapshot saved", slog.Uint64("seq", s.engine.Seq()))
			return nil
		case <-ticker.C:
			if _, err := s.SaveNow(ctx); err != nil {
				s.logger.WarnContext(ctx, "snapshotter: periodic save failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// AlignSequence advances the engine past the newest event in events, so a
// restart from an older snapshot never reuses a persisted sequence number.
// Those newer events stay in the store as history; their effects are absent
// from the restored state, which is logged as an error for the operator.
func AlignSequence(ctx context.Context, engine *market.Engine, events domain.EventStore, logger *slog.Logger) error {
	if events == nil {
		return nil
	}
	last, err := events.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("align sequence: %w", err)
	}
	if skipped := engine.AdvanceSeq(last); skipped > 0 {
		logger.ErrorContext(ctx, "event store is ahead of the restored snapshot; state after the snapshot was not recovered",
			slog.Uint64("snapshot_seq", last-skipped),
			slog.Uint64("store_seq", last),
			slog.Uint64("skipped", skipped),
		)
	}
	return nil
}
