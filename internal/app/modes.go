package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
	"github.com/alanyoungcy/estatemarket/internal/server"
	"github.com/alanyoungcy/estatemarket/internal/server/handler"
	"github.com/alanyoungcy/estatemarket/internal/server/ws"
	"github.com/alanyoungcy/estatemarket/internal/service"
)

const (
	// writerLockKey guards the engine so only one process mutates market state.
	writerLockKey = "market-writer"

	// archiveInterval is how often full mode archives and prunes history.
	archiveInterval = 24 * time.Hour
)

// runtime is the running settlement engine with its outbox, snapshotter and
// websocket hub.
type runtime struct {
	engine      *market.Engine
	svc         *service.MarketService
	publisher   *service.Publisher
	snapshotter *service.Snapshotter
	hub         *ws.Hub

	// leaseLost is closed if the writer lock is lost; nil without a lock.
	leaseLost <-chan struct{}
}

// ServerMode runs the settlement engine behind the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startRuntime(ctx, g, rt)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	}
	return g.Wait()
}

// ArchiveMode uploads events older than the retention window and the latest
// snapshot to object storage, prunes the uploaded events, and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("archive mode: archiver unavailable (requires postgres and s3)")
	}
	if err := a.archiveOnce(ctx, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	snap, err := deps.SnapshotStore.Latest(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.logger.InfoContext(ctx, "archive: no snapshot to archive")
	case err != nil:
		return fmt.Errorf("archive mode: load snapshot: %w", err)
	default:
		path, err := deps.Archiver.ArchiveSnapshot(ctx, snap)
		if err != nil {
			return fmt.Errorf("archive mode: %w", err)
		}
		a.logger.InfoContext(ctx, "archive: snapshot uploaded",
			slog.String("path", path),
			slog.Uint64("seq", snap.Seq),
		)
	}
	return nil
}

// FullMode runs server mode plus a daily archive of old history when object
// storage is configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	rt, err := a.buildRuntime(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startRuntime(ctx, g, rt)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(archiveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := a.archiveOnce(ctx, deps); err != nil {
						a.logger.WarnContext(ctx, "archive: run failed", slog.String("error", err.Error()))
					}
					if _, err := rt.snapshotter.Archive(ctx); err != nil {
						a.logger.WarnContext(ctx, "archive: snapshot failed", slog.String("error", err.Error()))
					}
				}
			}
		})
	} else {
		a.logger.InfoContext(ctx, "full mode: archiver disabled (requires postgres and s3)")
	}

	return g.Wait()
}

// buildRuntime takes the writer lock, builds the engine and its sinks,
// restores the latest snapshot and moves the sequence past every persisted
// event.
func (a *App) buildRuntime(ctx context.Context, deps *Dependencies) (*runtime, error) {
	var leaseLost <-chan struct{}
	if deps.LockManager != nil {
		lease, err := deps.LockManager.Acquire(ctx, writerLockKey, a.cfg.Market.WriterLockTTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("acquire writer lock: %w", err)
		}
		a.closers = append(a.closers, lease.Release)
		leaseLost = lease.Lost
	}

	var engine *market.Engine
	hub := ws.NewHub(deps.SignalBus, service.EventsChannel, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Seq:       func() uint64 { return engine.Seq() },
		Backlog:   func(since uint64, limit int) []domain.Event { return engine.EventsSince(since, limit) },
	})

	pcfg := service.PublisherConfig{
		Size:  a.cfg.Market.OutboxSize,
		Store: deps.EventStore,
		Bus:   deps.SignalBus,
	}
	// With a bus the hub receives events through its subscription.
	if deps.SignalBus == nil {
		pcfg.Local = hub
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		pcfg.Notifier = deps.Notifier
	}
	publisher := service.NewPublisher(pcfg, a.logger)

	engine, err := market.New(engineConfig(a.cfg.Market), deps.Quoter,
		market.WithPayout(service.NewAuditPayout(deps.AuditStore, nil, a.logger)),
		market.WithEventSink(publisher),
		market.WithEventLog(market.NewEventLog(a.cfg.Market.EventRetention)),
		market.WithPayoutTimeout(a.cfg.Market.PayoutTimeout.Duration),
		market.WithLogger(a.logger.With(slog.String("component", "engine"))),
	)
	if err != nil {
		return nil, err
	}

	snapshotter := service.NewSnapshotter(engine, deps.SnapshotStore, deps.Archiver,
		a.cfg.Market.SnapshotInterval.Duration, a.logger)
	if err := snapshotter.Restore(ctx); err != nil {
		return nil, err
	}
	if err := service.AlignSequence(ctx, engine, deps.EventStore, a.logger); err != nil {
		return nil, err
	}

	svc := service.NewMarketService(engine, deps.EventStore, a.logger, service.WithCheckpoint(snapshotter))
	return &runtime{
		engine:      engine,
		svc:         svc,
		publisher:   publisher,
		snapshotter: snapshotter,
		hub:         hub,
		leaseLost:   leaseLost,
	}, nil
}

// startRuntime launches the outbox, snapshotter and hub loops. Losing the
// writer lease fences the engine and fails the group, which stops the server
// and the loops.
func (a *App) startRuntime(ctx context.Context, g *errgroup.Group, rt *runtime) {
	if rt.leaseLost != nil {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-rt.leaseLost:
				rt.engine.Fence(domain.ErrLockLost)
				a.logger.ErrorContext(ctx, "writer lease lost; engine fenced, shutting down",
					slog.Uint64("seq", rt.engine.Seq()),
				)
				return fmt.Errorf("runtime: %w", domain.ErrLockLost)
			}
		})
	}
	g.Go(func() error {
		return rt.publisher.Run(ctx)
	})
	g.Go(func() error {
		return rt.snapshotter.Run(ctx)
	})
	g.Go(func() error {
		return rt.hub.Run(ctx)
	})
}

// archiveOnce uploads events older than the retention window and prunes them
// from the event store.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.ArchiveRetentionDays)
	n, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive: events uploaded",
		slog.Int64("count", n),
		slog.Time("before", cutoff),
	)
	if n == 0 || deps.EventPruner == nil {
		return nil
	}

	archived, err := deps.EventPruner.ListBefore(ctx, cutoff)
	if err != nil || len(archived) == 0 {
		return err
	}
	pruned, err := deps.EventPruner.DeleteThrough(ctx, archived[len(archived)-1].Seq)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive: events pruned", slog.Int64("count", pruned))
	return nil
}

// startHTTPServer registers the API on the errgroup and shuts it down when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rt *runtime) {
	stable := common.HexToAddress(a.cfg.Market.StableToken)
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), rt.svc),
		Properties: handler.NewPropertyHandler(rt.svc, stable, a.logger),
		Listings:   handler.NewListingHandler(rt.svc, stable, a.logger),
		Auctions:   handler.NewAuctionHandler(rt.svc, stable, a.logger),
		Referrals:  handler.NewReferralHandler(rt.svc, stable, a.logger),
		Vault:      handler.NewVaultHandler(rt.svc, stable, a.logger),
		Admin:      handler.NewAdminHandler(rt.svc, stable, a.logger),
		Events:     handler.NewEventsHandler(rt.svc, deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequireSignatures: a.cfg.Server.RequireSignatures,
		SignatureMaxSkew:  a.cfg.Server.SignatureMaxSkew.Duration,
		RateLimit:         a.cfg.Server.RateLimit,
	}, handlers, rt.hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
