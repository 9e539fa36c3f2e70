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
// built-in defaults, applies LEDGERD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LEDGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Governance ──
	setStr(&cfg.Governance.Admin, "LEDGERD_GOVERNANCE_ADMIN")
	setUint64(&cfg.Governance.ProposalThreshold, "LEDGERD_GOVERNANCE_PROPOSAL_THRESHOLD")
	setDuration(&cfg.Governance.VotingPeriod, "LEDGERD_GOVERNANCE_VOTING_PERIOD")
	setUint64(&cfg.Governance.QuorumPercent, "LEDGERD_GOVERNANCE_QUORUM_PERCENT")

	// ── Treasury ──
	setStr(&cfg.Treasury.Admin, "LEDGERD_TREASURY_ADMIN")
	setStr(&cfg.Treasury.Reporter, "LEDGERD_TREASURY_REPORTER")
	setUint64(&cfg.Treasury.ManagementFeeBps, "LEDGERD_TREASURY_MANAGEMENT_FEE_BPS")
	setUint64(&cfg.Treasury.PerformanceFeeBps, "LEDGERD_TREASURY_PERFORMANCE_FEE_BPS")

	// ── Registry ──
	setStr(&cfg.Registry.Authority, "LEDGERD_REGISTRY_AUTHORITY")
	setStr(&cfg.Registry.MinStake, "LEDGERD_REGISTRY_MIN_STAKE")

	// ── Bridge ──
	setStr(&cfg.Bridge.Admin, "LEDGERD_BRIDGE_ADMIN")
	setUint64(&cfg.Bridge.SourceDomain, "LEDGERD_BRIDGE_SOURCE_DOMAIN")
	setUint64(&cfg.Bridge.FeeBps, "LEDGERD_BRIDGE_FEE_BPS")
	setUint64(&cfg.Bridge.RequiredAttestations, "LEDGERD_BRIDGE_REQUIRED_ATTESTATIONS")
	setStringSlice(&cfg.Bridge.Validators, "LEDGERD_BRIDGE_VALIDATORS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LEDGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGERD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "LEDGERD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGERD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LEDGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEDGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGERD_S3_FORCE_PATH_STYLE")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "LEDGERD_SNAPSHOT_ENABLED")
	setDuration(&cfg.Snapshot.Interval, "LEDGERD_SNAPSHOT_INTERVAL")
	setStr(&cfg.Snapshot.Prefix, "LEDGERD_SNAPSHOT_PREFIX")
	setInt(&cfg.Snapshot.Retain, "LEDGERD_SNAPSHOT_RETAIN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEDGERD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEDGERD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGERD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminKey, "LEDGERD_SERVER_ADMIN_KEY")
	setStr(&cfg.Server.GovernorKey, "LEDGERD_SERVER_GOVERNOR_KEY")
	setStr(&cfg.Server.ReporterKey, "LEDGERD_SERVER_REPORTER_KEY")
	setStr(&cfg.Server.ValidatorKey, "LEDGERD_SERVER_VALIDATOR_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "LEDGERD_SERVER_RATE_LIMIT_PER_MIN")

	// ── Keys ──
	setStr(&cfg.Keys.EncryptedKeyPath, "LEDGERD_KEYS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keys.KeyPassword, "LEDGERD_KEYS_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEDGERD_MODE")
	setStr(&cfg.LogLevel, "LEDGERD_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
