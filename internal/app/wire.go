package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantdao/ledgerd/internal/blob/s3"
	"github.com/quantdao/ledgerd/internal/bridge"
	"github.com/quantdao/ledgerd/internal/cache/redis"
	"github.com/quantdao/ledgerd/internal/config"
	"github.com/quantdao/ledgerd/internal/crypto"
	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
	"github.com/quantdao/ledgerd/internal/registry"
	"github.com/quantdao/ledgerd/internal/service"
	"github.com/quantdao/ledgerd/internal/store/postgres"
	"github.com/quantdao/ledgerd/internal/treasury"
)

// Dependencies bundles everything the application modes need to operate:
// engines, stores, caches, blob storage, and the composed services. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Engines
	Governance *governance.Engine
	Treasury   *treasury.Engine
	Registry   *registry.Engine
	Bridge     *bridge.Engine

	// Stores
	ProposalStore        domain.ProposalStore
	VotingAccountStore   domain.VotingAccountStore
	AgentStore           domain.AgentStore
	FundStateStore       domain.FundStateStore
	PositionStore        domain.PositionStore
	ConsumedAuthStore    domain.ConsumedAuthStore
	RegisteredAgentStore domain.RegisteredAgentStore
	BridgeTxStore        domain.BridgeTxStore
	BridgeStateStore     domain.BridgeStateStore
	AuditStore           domain.AuditStore

	// Caches
	SharePriceCache domain.SharePriceCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.SnapshotArchiver

	// Services
	GovernanceSvc *service.GovernanceService
	TreasurySvc   *service.TreasuryService
	RegistrySvc   *service.RegistryService
	BridgeSvc     *service.BridgeService
	SnapshotSvc   *service.SnapshotService
	Hydrator      *service.Hydrator

	// Role keys resolved from config and the encrypted key file.
	RoleKeys crypto.RoleKeys
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "export":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	switch cfg.Mode {
	case "export", "replay":
		return true
	case "serve":
		return cfg.Snapshot.Enabled
	default:
		return false
	}
}

// buildEngines constructs the four ledger engines from configuration. The
// treasury consumes governance authorizations, so it is handed the
// governance engine as its Authorizer.
func buildEngines(cfg *config.Config) (*governance.Engine, *treasury.Engine, *registry.Engine, *bridge.Engine, error) {
	gov, err := governance.New(governance.Config{
		Admin:             cfg.Governance.Admin,
		ProposalThreshold: cfg.Governance.ProposalThreshold,
		VotingPeriod:      cfg.Governance.VotingPeriod.Duration,
		QuorumPercent:     cfg.Governance.QuorumPercent,
	}, nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wire: governance engine: %w", err)
	}

	tre, err := treasury.New(treasury.Config{
		Admin:             cfg.Treasury.Admin,
		Reporter:          cfg.Treasury.Reporter,
		ManagementFeeBps:  cfg.Treasury.ManagementFeeBps,
		PerformanceFeeBps: cfg.Treasury.PerformanceFeeBps,
	}, gov, nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wire: treasury engine: %w", err)
	}

	minStake, err := cfg.Registry.MinStakeBig()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wire: %w", err)
	}
	reg, err := registry.New(registry.Config{
		Authority: cfg.Registry.Authority,
		MinStake:  minStake,
	}, nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wire: registry engine: %w", err)
	}

	bri, err := bridge.New(bridge.Config{
		Admin:                cfg.Bridge.Admin,
		SourceDomain:         cfg.Bridge.SourceDomain,
		FeeBps:               cfg.Bridge.FeeBps,
		RequiredAttestations: cfg.Bridge.RequiredAttestations,
		Validators:           cfg.Bridge.Validators,
	}, nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("wire: bridge engine: %w", err)
	}

	return gov, tre, reg, bri, nil
}

// resolveRoleKeys merges the TOML role keys with an encrypted key file when
// one is configured. File keys fill in only the roles the TOML leaves empty.
func resolveRoleKeys(cfg *config.Config) (crypto.RoleKeys, error) {
	keys := crypto.RoleKeys{
		Admin:     cfg.Server.AdminKey,
		Governor:  cfg.Server.GovernorKey,
		Reporter:  cfg.Server.ReporterKey,
		Validator: cfg.Server.ValidatorKey,
	}
	if cfg.Keys.EncryptedKeyPath == "" {
		return keys, nil
	}

	fileKeys, err := crypto.LoadRoleKeys(cfg.Keys.EncryptedKeyPath, cfg.Keys.KeyPassword)
	if err != nil {
		return crypto.RoleKeys{}, fmt.Errorf("wire: load role keys: %w", err)
	}
	if keys.Admin == "" {
		keys.Admin = fileKeys.Admin
	}
	if keys.Governor == "" {
		keys.Governor = fileKeys.Governor
	}
	if keys.Reporter == "" {
		keys.Reporter = fileKeys.Reporter
	}
	if keys.Validator == "" {
		keys.Validator = fileKeys.Validator
	}
	return keys, nil
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	gov, tre, reg, bri, err := buildEngines(cfg)
	if err != nil {
		return nil, nil, err
	}
	deps.Governance = gov
	deps.Treasury = tre
	deps.Registry = reg
	deps.Bridge = bri

	deps.RoleKeys, err = resolveRoleKeys(cfg)
	if err != nil {
		return nil, nil, err
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ProposalStore = postgres.NewProposalStore(pool)
		deps.VotingAccountStore = postgres.NewVotingAccountStore(pool)
		deps.AgentStore = postgres.NewAgentStore(pool)
		deps.FundStateStore = postgres.NewFundStateStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.ConsumedAuthStore = postgres.NewConsumedAuthStore(pool)
		deps.RegisteredAgentStore = postgres.NewRegisteredAgentStore(pool)
		deps.BridgeTxStore = postgres.NewBridgeTxStore(pool)
		deps.BridgeStateStore = postgres.NewBridgeStateStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

		deps.Hydrator = service.NewHydrator(
			deps.ProposalStore,
			deps.VotingAccountStore,
			deps.AgentStore,
			deps.FundStateStore,
			deps.PositionStore,
			deps.ConsumedAuthStore,
			deps.RegisteredAgentStore,
			deps.BridgeTxStore,
			deps.BridgeStateStore,
			logger,
		)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SharePriceCache = redis.NewSharePriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewSnapshotArchiver(
			deps.BlobWriter,
			reader,
			reader,
			deps.AuditStore,
			cfg.Snapshot.Prefix,
		)
	}

	// --- Services ---
	deps.GovernanceSvc = service.NewGovernanceService(
		gov, deps.ProposalStore, deps.VotingAccountStore,
		deps.SignalBus, deps.AuditStore, logger,
	)
	deps.TreasurySvc = service.NewTreasuryService(
		tre, deps.AgentStore, deps.FundStateStore, deps.PositionStore,
		deps.ConsumedAuthStore, deps.SharePriceCache,
		deps.SignalBus, deps.AuditStore, logger,
	)
	deps.RegistrySvc = service.NewRegistryService(
		reg, deps.RegisteredAgentStore,
		deps.SignalBus, deps.AuditStore, logger,
	)
	deps.BridgeSvc = service.NewBridgeService(
		bri, deps.BridgeTxStore, deps.BridgeStateStore,
		deps.SignalBus, deps.AuditStore, logger,
	)

	if deps.Archiver != nil {
		interval := cfg.Snapshot.Interval.Duration
		if interval <= 0 {
			interval = time.Hour
		}
		deps.SnapshotSvc = service.NewSnapshotService(
			gov, tre, reg, bri,
			deps.Archiver, deps.LockManager, interval, cfg.Snapshot.Retain, logger,
		)
	}

	return deps, cleanup, nil
}
