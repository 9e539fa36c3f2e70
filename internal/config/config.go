// Package config defines the top-level configuration for the ledgerd node
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEDGERD_* environment variables.
type Config struct {
	Governance GovernanceConfig `toml:"governance"`
	Treasury   TreasuryConfig   `toml:"treasury"`
	Registry   RegistryConfig   `toml:"registry"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Server     ServerConfig     `toml:"server"`
	Keys       KeysConfig       `toml:"keys"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// GovernanceConfig holds the voting parameters and the admin account that
// bootstraps voting power.
type GovernanceConfig struct {
	Admin             string   `toml:"admin"`
	ProposalThreshold uint64   `toml:"proposal_threshold"`
	VotingPeriod      duration `toml:"voting_period"`
	QuorumPercent     uint64   `toml:"quorum_percent"`
}

// TreasuryConfig holds the fund fee schedule and the privileged accounts.
type TreasuryConfig struct {
	Admin             string `toml:"admin"`
	Reporter          string `toml:"reporter"`
	ManagementFeeBps  uint64 `toml:"management_fee_bps"`
	PerformanceFeeBps uint64 `toml:"performance_fee_bps"`
}

// RegistryConfig holds the staking floor and the authority account that
// relays executed governance decisions to the registry.
type RegistryConfig struct {
	Authority string `toml:"authority"`
	MinStake  string `toml:"min_stake"`
}

// MinStakeBig parses MinStake as a base-10 integer in the fund's smallest
// unit.
func (c RegistryConfig) MinStakeBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.MinStake), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("registry: min_stake %q must be a positive decimal integer", c.MinStake)
	}
	return v, nil
}

// BridgeConfig holds the cross-domain transfer parameters and validator set.
type BridgeConfig struct {
	Admin                string   `toml:"admin"`
	SourceDomain         uint64   `toml:"source_domain"`
	FeeBps               uint64   `toml:"fee_bps"`
	RequiredAttestations uint64   `toml:"required_attestations"`
	Validators           []string `toml:"validators"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig controls the periodic full-state export to object storage.
type SnapshotConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
	Retain   int      `toml:"retain"` // exports kept after pruning, 0 keeps all
}

// ServerConfig holds HTTP server parameters. The role keys gate the
// capability-scoped endpoints; an empty key disables that role's endpoints.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	AdminKey        string   `toml:"admin_key"`
	GovernorKey     string   `toml:"governor_key"`
	ReporterKey     string   `toml:"reporter_key"`
	ValidatorKey    string   `toml:"validator_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"` // 0 disables API rate limiting
}

// KeysConfig points at an encrypted role-key file produced by ledgerd keygen,
// allowing operators to keep API keys out of the TOML file.
type KeysConfig struct {
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "72h", "15m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "72h" or "15m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Governance: GovernanceConfig{
			ProposalThreshold: 1,
			VotingPeriod:      duration{72 * time.Hour},
			QuorumPercent:     10,
		},
		Treasury: TreasuryConfig{
			ManagementFeeBps:  200,
			PerformanceFeeBps: 2000,
		},
		Registry: RegistryConfig{
			MinStake: "1000000000000000000",
		},
		Bridge: BridgeConfig{
			SourceDomain:         1,
			FeeBps:               10,
			RequiredAttestations: 3,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "ledgerd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ledgerd-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Snapshot: SnapshotConfig{
			Enabled:  false,
			Interval: duration{15 * time.Minute},
			Prefix:   "snapshots",
			Retain:   24,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 300,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true,
	"export": true,
	"replay": true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, export, replay)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Governance
	if c.Governance.Admin == "" {
		errs = append(errs, "governance: admin must not be empty")
	}
	if c.Governance.QuorumPercent == 0 || c.Governance.QuorumPercent > 100 {
		errs = append(errs, fmt.Sprintf("governance: quorum_percent must be 1-100, got %d", c.Governance.QuorumPercent))
	}
	if p := c.Governance.VotingPeriod.Duration; p < 24*time.Hour || p > 168*time.Hour {
		errs = append(errs, fmt.Sprintf("governance: voting_period must be between 24h and 168h, got %s", p))
	}

	// Treasury
	if c.Treasury.Admin == "" {
		errs = append(errs, "treasury: admin must not be empty")
	}
	if c.Treasury.Reporter == "" {
		errs = append(errs, "treasury: reporter must not be empty")
	}
	if c.Treasury.ManagementFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("treasury: management_fee_bps must be <= 1000, got %d", c.Treasury.ManagementFeeBps))
	}
	if c.Treasury.PerformanceFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("treasury: performance_fee_bps must be <= 10000, got %d", c.Treasury.PerformanceFeeBps))
	}

	// Registry
	if c.Registry.Authority == "" {
		errs = append(errs, "registry: authority must not be empty")
	}
	if _, err := c.Registry.MinStakeBig(); err != nil {
		errs = append(errs, err.Error())
	}

	// Bridge
	if c.Bridge.Admin == "" {
		errs = append(errs, "bridge: admin must not be empty")
	}
	if c.Bridge.FeeBps > 500 {
		errs = append(errs, fmt.Sprintf("bridge: fee_bps must be <= 500, got %d", c.Bridge.FeeBps))
	}
	if c.Bridge.RequiredAttestations == 0 {
		errs = append(errs, "bridge: required_attestations must be >= 1")
	}
	if n := uint64(len(c.Bridge.Validators)); c.Bridge.RequiredAttestations > n {
		errs = append(errs, fmt.Sprintf("bridge: required_attestations %d exceeds validator count %d", c.Bridge.RequiredAttestations, n))
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Snapshot / S3
	if c.Snapshot.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when snapshot.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when snapshot.enabled")
		}
		if c.Snapshot.Interval.Duration < time.Minute {
			errs = append(errs, fmt.Sprintf("snapshot: interval must be >= 1m, got %s", c.Snapshot.Interval.Duration))
		}
		if c.Snapshot.Retain < 0 {
			errs = append(errs, fmt.Sprintf("snapshot: retain must be >= 0, got %d", c.Snapshot.Retain))
		}
	}

	// Keys
	if c.Keys.EncryptedKeyPath != "" && c.Keys.KeyPassword == "" {
		errs = append(errs, "keys: key_password is required when encrypted_key_path is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("server: rate_limit_per_min must be >= 0, got %d", c.Server.RateLimitPerMin))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
