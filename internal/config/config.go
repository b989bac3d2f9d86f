// Package config defines the top-level configuration for the estate market
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESTATE_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Bolt     BoltConfig     `toml:"bolt"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig seeds the settlement engine. Bips are basis points (1/10000).
type MarketConfig struct {
	Owner               string   `toml:"owner"`
	FeeRecipient        string   `toml:"fee_recipient"`
	Administrators      []string `toml:"administrators"`
	StableToken         string   `toml:"stable_token"`
	PlatformFeeBips     int      `toml:"platform_fee_bips"`
	DefaultReferralBips int      `toml:"default_referral_bips"`
	MinBidIncrementBips int      `toml:"min_bid_increment_bips"`
	MinListingPriceBips int      `toml:"min_listing_price_bips"`
	// EventRetention bounds the in-process event log; 0 keeps everything.
	EventRetention   int      `toml:"event_retention"`
	OutboxSize       int      `toml:"outbox_size"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	WriterLockTTL    duration `toml:"writer_lock_ttl"`
	// PayoutTimeout bounds one withdrawal payout; the engine is locked meanwhile.
	PayoutTimeout duration `toml:"payout_timeout"`
}

// OracleConfig selects how native-currency prices are quoted.
type OracleConfig struct {
	// Kind is "static" (fixed rate) or "feed" (on-chain aggregator).
	Kind           string   `toml:"kind"`
	StaticRate     string   `toml:"static_rate"` // native coins per stable token, decimal
	RPCURL         string   `toml:"rpc_url"`
	FeedAddress    string   `toml:"feed_address"`
	NativeDecimals int      `toml:"native_decimals"`
	StableDecimals int      `toml:"stable_decimals"`
	MaxStaleness   duration `toml:"max_staleness"`
	CacheTTL       duration `toml:"cache_ttl"`
	Timeout        duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// BoltConfig configures the embedded snapshot store used without Postgres.
type BoltConfig struct {
	Path string `toml:"path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RequireSignatures makes every mutating request prove its actor with an
	// EIP-191 signature over the body.
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"` // accepted clock drift of signed requests
	RateLimit         int      `toml:"rate_limit"`         // requests per minute per client, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			PlatformFeeBips:     250,
			DefaultReferralBips: 1000,
			MinBidIncrementBips: 500,
			MinListingPriceBips: 9000,
			EventRetention:      100_000,
			OutboxSize:          1024,
			SnapshotInterval:    duration{time.Minute},
			WriterLockTTL:       duration{30 * time.Second},
			PayoutTimeout:       duration{5 * time.Second},
		},
		Oracle: OracleConfig{
			Kind:           "static",
			StaticRate:     "0.0004",
			NativeDecimals: 18,
			StableDecimals: 6,
			MaxStaleness:   duration{time.Hour},
			CacheTTL:       duration{15 * time.Second},
			Timeout:        duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "estatemarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "estatemarket-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
		},
		Bolt: BoltConfig{
			Path: "estatemarket.db",
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        0,
		},
		Notify: NotifyConfig{
			Events: []string{"sale_concluded", "auction_concluded", "listing_filled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if !common.IsHexAddress(c.Market.Owner) {
		errs = append(errs, "market: owner must be a hex address")
	}
	if !common.IsHexAddress(c.Market.StableToken) {
		errs = append(errs, "market: stable_token must be a hex address")
	}
	if c.Market.FeeRecipient != "" && !common.IsHexAddress(c.Market.FeeRecipient) {
		errs = append(errs, "market: fee_recipient must be a hex address")
	}
	for _, a := range c.Market.Administrators {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("market: administrator %q is not a hex address", a))
		}
	}
	for name, v := range map[string]int{
		"platform_fee_bips":      c.Market.PlatformFeeBips,
		"default_referral_bips":  c.Market.DefaultReferralBips,
		"min_bid_increment_bips": c.Market.MinBidIncrementBips,
		"min_listing_price_bips": c.Market.MinListingPriceBips,
	} {
		if v < 0 || v >= 10_000 {
			errs = append(errs, fmt.Sprintf("market: %s must be 0-9999, got %d", name, v))
		}
	}
	if c.Market.OutboxSize < 1 {
		errs = append(errs, "market: outbox_size must be >= 1")
	}
	if c.Market.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "market: snapshot_interval must be > 0")
	}
	if c.Market.PayoutTimeout.Duration <= 0 {
		errs = append(errs, "market: payout_timeout must be > 0")
	}

	// Oracle
	switch c.Oracle.Kind {
	case "static":
		if r, err := decimal.NewFromString(c.Oracle.StaticRate); err != nil || !r.IsPositive() {
			errs = append(errs, fmt.Sprintf("oracle: static_rate must be a positive decimal, got %q", c.Oracle.StaticRate))
		}
	case "feed":
		if c.Oracle.RPCURL == "" {
			errs = append(errs, "oracle: rpc_url is required for kind feed")
		}
		if !common.IsHexAddress(c.Oracle.FeedAddress) {
			errs = append(errs, "oracle: feed_address must be a hex address for kind feed")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown kind %q (valid: static, feed)", c.Oracle.Kind))
	}
	if c.Oracle.NativeDecimals < 0 || c.Oracle.StableDecimals < 0 {
		errs = append(errs, "oracle: decimals must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	} else if c.Bolt.Path == "" {
		errs = append(errs, "bolt: path must be set when postgres is disabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Mode == "archive" && !c.Postgres.Enabled {
		errs = append(errs, "archive mode requires postgres")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
