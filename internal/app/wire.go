package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/estatemarket/internal/blob/s3"
	"github.com/alanyoungcy/estatemarket/internal/cache/redis"
	"github.com/alanyoungcy/estatemarket/internal/config"
	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
	"github.com/alanyoungcy/estatemarket/internal/notify"
	"github.com/alanyoungcy/estatemarket/internal/oracle"
	"github.com/alanyoungcy/estatemarket/internal/server/handler"
	"github.com/alanyoungcy/estatemarket/internal/store/bolt"
	"github.com/alanyoungcy/estatemarket/internal/store/postgres"
)

// snapshotKeep is how many snapshots the stores retain.
const snapshotKeep = 24

// EventPruner deletes events that have already been archived.
type EventPruner interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
	DeleteThrough(ctx context.Context, lastSeq uint64) (int64, error)
}

// Dependencies bundles every infrastructure dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	EventStore    domain.EventStore
	SnapshotStore domain.SnapshotStore
	AuditStore    domain.AuditStore
	EventPruner   EventPruner

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Pricing
	Quoter market.Quoter

	// Notifications
	Notifier *notify.Notifier

	// Health probes for GET /api/health, keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Persistence: PostgreSQL when enabled, otherwise an embedded bolt file ---
	var events *postgres.EventStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		events = postgres.NewEventStore(pool)
		deps.EventStore = events
		deps.EventPruner = events
		deps.SnapshotStore = postgres.NewSnapshotStore(pool, snapshotKeep)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	} else {
		store, err := bolt.Open(cfg.Bolt.Path, snapshotKeep)
		if err != nil {
			return fail("wire: bolt: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.EventStore = store
		deps.SnapshotStore = store
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, time.Minute)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled || cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health
		// The archiver reads old events and writes its audit trail through Postgres.
		if events != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, events, deps.AuditStore)
		}
	}

	// --- Oracle ---
	src, err := newQuoteSource(ctx, cfg.Oracle, &closers)
	if err != nil {
		return fail("wire: oracle: %w", err)
	}
	deps.Quoter = src
	if deps.QuoteCache != nil && cfg.Oracle.CacheTTL.Duration > 0 {
		deps.Quoter = oracle.NewCachedQuoter(src, deps.QuoteCache, cfg.Oracle.CacheTTL.Duration, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, notify.Formatter{
		NativeDecimals: int32(cfg.Oracle.NativeDecimals),
		StableDecimals: int32(cfg.Oracle.StableDecimals),
		NativeSymbol:   "ETH",
		StableSymbol:   "USD",
	}, logger)

	return deps, cleanup, nil
}

// newQuoteSource builds the configured native-price oracle. A feed oracle
// registers its RPC connection with closers.
func newQuoteSource(ctx context.Context, cfg config.OracleConfig, closers *[]func()) (oracle.Source, error) {
	switch cfg.Kind {
	case "feed":
		q, client, err := oracle.DialFeed(ctx, cfg.RPCURL, oracle.FeedConfig{
			Feed:           common.HexToAddress(cfg.FeedAddress),
			NativeDecimals: cfg.NativeDecimals,
			StableDecimals: cfg.StableDecimals,
			MaxStaleness:   cfg.MaxStaleness.Duration,
			Timeout:        cfg.Timeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client.Close)
		return q, nil
	default:
		return oracle.NewStaticQuoter(cfg.StaticRate, cfg.NativeDecimals, cfg.StableDecimals)
	}
}

// engineConfig converts the validated market section into engine settings.
func engineConfig(cfg config.MarketConfig) market.Config {
	admins := make([]common.Address, 0, len(cfg.Administrators))
	for _, a := range cfg.Administrators {
		admins = append(admins, common.HexToAddress(a))
	}
	var recipient common.Address
	if cfg.FeeRecipient != "" {
		recipient = common.HexToAddress(cfg.FeeRecipient)
	}
	return market.Config{
		Owner:               common.HexToAddress(cfg.Owner),
		FeeRecipient:        recipient,
		StableToken:         common.HexToAddress(cfg.StableToken),
		Administrators:      admins,
		PlatformFeeBips:     uint32(cfg.PlatformFeeBips),
		DefaultReferralBips: uint32(cfg.DefaultReferralBips),
		MinBidIncrementBips: uint32(cfg.MinBidIncrementBips),
		MinListingPriceBips: uint32(cfg.MinListingPriceBips),
	}
}
