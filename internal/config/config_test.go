package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdmin = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// validConfig returns Defaults() with every required field filled in.
func validConfig() Config {
	cfg := Defaults()
	cfg.Governance.Admin = testAdmin
	cfg.Treasury.Admin = testAdmin
	cfg.Treasury.Reporter = testAdmin
	cfg.Registry.Authority = testAdmin
	cfg.Bridge.Admin = testAdmin
	cfg.Bridge.Validators = []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
		"0x0000000000000000000000000000000000000003",
	}
	return cfg
}

func TestValidateAcceptsFilledDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingAccounts(t *testing.T) {
	cfg := validConfig()
	cfg.Governance.Admin = ""
	cfg.Treasury.Reporter = ""
	cfg.Registry.Authority = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "governance: admin")
	assert.Contains(t, err.Error(), "treasury: reporter")
	assert.Contains(t, err.Error(), "registry: authority")
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "daemon" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"quorum zero", func(c *Config) { c.Governance.QuorumPercent = 0 }, "quorum_percent"},
		{"quorum over 100", func(c *Config) { c.Governance.QuorumPercent = 101 }, "quorum_percent"},
		{"voting period too short", func(c *Config) { c.Governance.VotingPeriod = duration{time.Hour} }, "voting_period"},
		{"management fee too high", func(c *Config) { c.Treasury.ManagementFeeBps = 1001 }, "management_fee_bps"},
		{"performance fee too high", func(c *Config) { c.Treasury.PerformanceFeeBps = 10001 }, "performance_fee_bps"},
		{"min stake not a number", func(c *Config) { c.Registry.MinStake = "a lot" }, "min_stake"},
		{"bridge fee too high", func(c *Config) { c.Bridge.FeeBps = 501 }, "fee_bps"},
		{"required attestations zero", func(c *Config) { c.Bridge.RequiredAttestations = 0 }, "required_attestations"},
		{"required exceeds validators", func(c *Config) { c.Bridge.RequiredAttestations = 4 }, "exceeds validator count"},
		{"postgres port", func(c *Config) { c.Postgres.Port = 0 }, "postgres: port"},
		{"pool min over max", func(c *Config) { c.Postgres.PoolMinConns = 20 }, "pool_min_conns"},
		{"redis addr empty", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMin = -1 }, "rate_limit_per_min"},
		{"key file without password", func(c *Config) { c.Keys.EncryptedKeyPath = "/tmp/keys.enc" }, "key_password"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestValidateSnapshotRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Snapshot.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	cfg.Snapshot.Interval = duration{time.Second}
	cfg.Snapshot.Retain = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: endpoint")
	assert.Contains(t, err.Error(), "s3: bucket")
	assert.Contains(t, err.Error(), "snapshot: interval")
	assert.Contains(t, err.Error(), "snapshot: retain")

	// Disabled snapshots skip the S3 checks entirely.
	cfg.Snapshot.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestMinStakeBig(t *testing.T) {
	c := RegistryConfig{MinStake: " 1000000000000000000 "}
	v, err := c.MinStakeBig()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(big.NewInt(1_000_000_000_000_000_000)))

	for _, bad := range []string{"", "0", "-5", "1e18", "abc"} {
		_, err := RegistryConfig{MinStake: bad}.MinStakeBig()
		assert.Error(t, err, "min_stake %q", bad)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "export"

[governance]
admin = "` + testAdmin + `"
voting_period = "48h"

[treasury]
management_fee_bps = 100

[snapshot]
retain = 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "export", cfg.Mode)
	assert.Equal(t, testAdmin, cfg.Governance.Admin)
	assert.Equal(t, 48*time.Hour, cfg.Governance.VotingPeriod.Duration)
	assert.Equal(t, uint64(100), cfg.Treasury.ManagementFeeBps)
	assert.Equal(t, 5, cfg.Snapshot.Retain)

	// Untouched fields keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "snapshots", cfg.Snapshot.Prefix)
	assert.Equal(t, uint64(2000), cfg.Treasury.PerformanceFeeBps)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "serve"`), 0o600))

	t.Setenv("LEDGERD_MODE", "replay")
	t.Setenv("LEDGERD_SERVER_PORT", "9100")
	t.Setenv("LEDGERD_GOVERNANCE_VOTING_PERIOD", "96h")
	t.Setenv("LEDGERD_BRIDGE_VALIDATORS", " 0xA , 0xB ,")
	t.Setenv("LEDGERD_POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("LEDGERD_SERVER_RATE_LIMIT_PER_MIN", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 96*time.Hour, cfg.Governance.VotingPeriod.Duration)
	assert.Equal(t, []string{"0xA", "0xB"}, cfg.Bridge.Validators)
	assert.False(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, 0, cfg.Server.RateLimitPerMin)
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("72h")))
	assert.Equal(t, 72*time.Hour, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("three days")))

	out, err := duration{15 * time.Minute}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "15m0s", string(out))
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.AdminKey = "admin-key"
	cfg.Keys.KeyPassword = "file-password"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.AdminKey)
	assert.Equal(t, "***", red.Keys.KeyPassword)

	// Empty secrets stay empty rather than becoming placeholders.
	assert.Empty(t, red.Server.GovernorKey)

	// Originals are untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)

	// Mutating redacted slices must not leak back.
	red.Bridge.Validators[0] = "mutated"
	assert.Equal(t, "0x0000000000000000000000000000000000000001", cfg.Bridge.Validators[0])
}
