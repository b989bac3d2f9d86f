package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "server"
log_level = "debug"

[market]
owner = "0x1000000000000000000000000000000000000001"
fee_recipient = "0x1000000000000000000000000000000000000002"
stable_token = "0x2000000000000000000000000000000000000001"
administrators = ["0x1000000000000000000000000000000000000003"]
platform_fee_bips = 300
snapshot_interval = "30s"

[oracle]
kind = "static"
static_rate = "0.0005"

[server]
port = 9090
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "estate.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Market.PlatformFeeBips)
	assert.Equal(t, 1000, cfg.Market.DefaultReferralBips, "default kept")
	assert.Equal(t, 30*time.Second, cfg.Market.SnapshotInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Market.PayoutTimeout.Duration, "default kept")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "estatemarket.db", cfg.Bolt.Path)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ESTATE_MARKET_PLATFORM_FEE_BIPS", "125")
	t.Setenv("ESTATE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ESTATE_MARKET_SNAPSHOT_INTERVAL", "2m")
	t.Setenv("ESTATE_MARKET_PAYOUT_TIMEOUT", "750ms")
	t.Setenv("ESTATE_SERVER_REQUIRE_SIGNATURES", "true")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, 125, cfg.Market.PlatformFeeBips)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Market.SnapshotInterval.Duration)
	assert.Equal(t, 750*time.Millisecond, cfg.Market.PayoutTimeout.Duration)
	assert.True(t, cfg.Server.RequireSignatures)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Market.PlatformFeeBips = 10_000
	cfg.Oracle.Kind = "feed"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "market: owner must be a hex address")
	assert.Contains(t, msg, "platform_fee_bips must be 0-9999")
	assert.Contains(t, msg, "oracle: rpc_url is required")
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Mode = "archive"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive mode requires postgres")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Market.Administrators = []string{"0x1"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Market.Administrators[0] = "changed"
	assert.Equal(t, "0x1", cfg.Market.Administrators[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
