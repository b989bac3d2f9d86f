package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESTATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESTATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Owner, "ESTATE_MARKET_OWNER")
	setStr(&cfg.Market.FeeRecipient, "ESTATE_MARKET_FEE_RECIPIENT")
	setStringSlice(&cfg.Market.Administrators, "ESTATE_MARKET_ADMINISTRATORS")
	setStr(&cfg.Market.StableToken, "ESTATE_MARKET_STABLE_TOKEN")
	setInt(&cfg.Market.PlatformFeeBips, "ESTATE_MARKET_PLATFORM_FEE_BIPS")
	setInt(&cfg.Market.DefaultReferralBips, "ESTATE_MARKET_DEFAULT_REFERRAL_BIPS")
	setInt(&cfg.Market.MinBidIncrementBips, "ESTATE_MARKET_MIN_BID_INCREMENT_BIPS")
	setInt(&cfg.Market.MinListingPriceBips, "ESTATE_MARKET_MIN_LISTING_PRICE_BIPS")
	setInt(&cfg.Market.EventRetention, "ESTATE_MARKET_EVENT_RETENTION")
	setInt(&cfg.Market.OutboxSize, "ESTATE_MARKET_OUTBOX_SIZE")
	setDuration(&cfg.Market.SnapshotInterval, "ESTATE_MARKET_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Market.WriterLockTTL, "ESTATE_MARKET_WRITER_LOCK_TTL")
	setDuration(&cfg.Market.PayoutTimeout, "ESTATE_MARKET_PAYOUT_TIMEOUT")

	// ── Oracle ──
	setStr(&cfg.Oracle.Kind, "ESTATE_ORACLE_KIND")
	setStr(&cfg.Oracle.StaticRate, "ESTATE_ORACLE_STATIC_RATE")
	setStr(&cfg.Oracle.RPCURL, "ESTATE_ORACLE_RPC_URL")
	setStr(&cfg.Oracle.FeedAddress, "ESTATE_ORACLE_FEED_ADDRESS")
	setInt(&cfg.Oracle.NativeDecimals, "ESTATE_ORACLE_NATIVE_DECIMALS")
	setInt(&cfg.Oracle.StableDecimals, "ESTATE_ORACLE_STABLE_DECIMALS")
	setDuration(&cfg.Oracle.MaxStaleness, "ESTATE_ORACLE_MAX_STALENESS")
	setDuration(&cfg.Oracle.CacheTTL, "ESTATE_ORACLE_CACHE_TTL")
	setDuration(&cfg.Oracle.Timeout, "ESTATE_ORACLE_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ESTATE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ESTATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESTATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESTATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESTATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESTATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESTATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESTATE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESTATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESTATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESTATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESTATE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESTATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESTATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESTATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESTATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESTATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESTATE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESTATE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESTATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESTATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESTATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESTATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESTATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESTATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESTATE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "ESTATE_S3_ARCHIVE_RETENTION_DAYS")

	// ── Bolt ──
	setStr(&cfg.Bolt.Path, "ESTATE_BOLT_PATH")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESTATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESTATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESTATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESTATE_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "ESTATE_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "ESTATE_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "ESTATE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESTATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESTATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESTATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESTATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESTATE_MODE")
	setStr(&cfg.LogLevel, "ESTATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
