package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantdao/ledgerd/internal/blob/s3"
	"github.com/quantdao/ledgerd/internal/bridge"
	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/quantdao/ledgerd/internal/governance"
	"github.com/quantdao/ledgerd/internal/registry"
	"github.com/quantdao/ledgerd/internal/treasury"
)

// snapshotLockKey guards the export so only one replica uploads per tick.
const snapshotLockKey = "snapshot:export"

// LedgerSnapshot is the combined state document exported to object storage.
type LedgerSnapshot struct {
	TakenAt    time.Time           `json:"taken_at"`
	Governance governance.Snapshot `json:"governance"`
	Treasury   treasury.Snapshot   `json:"treasury"`
	Registry   registry.Snapshot   `json:"registry"`
	Bridge     bridge.Snapshot     `json:"bridge"`
}

// SnapshotService periodically exports the full ledger state to S3 and can
// restore the engines from the most recent export.
type SnapshotService struct {
	governance *governance.Engine
	treasury   *treasury.Engine
	registry   *registry.Engine
	bridge     *bridge.Engine
	archiver   *s3blob.SnapshotArchiver
	locks      domain.LockManager
	interval   time.Duration
	retain     int
	logger     *slog.Logger
}

// NewSnapshotService creates a SnapshotService. The lock manager may be nil
// when only a single replica runs. A retain of zero keeps every export.
func NewSnapshotService(
	gov *governance.Engine,
	tre *treasury.Engine,
	reg *registry.Engine,
	bri *bridge.Engine,
	archiver *s3blob.SnapshotArchiver,
	locks domain.LockManager,
	interval time.Duration,
	retain int,
	logger *slog.Logger,
) *SnapshotService {
	return &SnapshotService{
		governance: gov,
		treasury:   tre,
		registry:   reg,
		bridge:     bri,
		archiver:   archiver,
		locks:      locks,
		interval:   interval,
		retain:     retain,
		logger:     logger,
	}
}

// Capture assembles the combined state document.
func (s *SnapshotService) Capture(at time.Time) LedgerSnapshot {
	return LedgerSnapshot{
		TakenAt:    at,
		Governance: s.governance.Snapshot(),
		Treasury:   s.treasury.Snapshot(),
		Registry:   s.registry.Snapshot(),
		Bridge:     s.bridge.Snapshot(),
	}
}

// Export captures the current state and uploads it, holding the export lock
// when a lock manager is configured. A held lock means another replica is
// exporting; that is not an error.
func (s *SnapshotService) Export(ctx context.Context) (string, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, snapshotLockKey, s.interval/2)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "snapshot_service: export lock held by another replica")
				return "", nil
			}
			return "", fmt.Errorf("snapshot_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	at := time.Now().UTC()
	path, err := s.archiver.Archive(ctx, s.Capture(at), at)
	if err != nil {
		return "", fmt.Errorf("snapshot_service: export: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot_service: state exported",
		slog.String("path", path),
	)

	// A failed prune never fails the export; the next cycle retries it.
	removed, err := s.archiver.Prune(ctx, s.retain)
	if err != nil {
		s.logger.WarnContext(ctx, "snapshot_service: prune failed",
			slog.String("error", err.Error()),
		)
	} else if removed > 0 {
		s.logger.InfoContext(ctx, "snapshot_service: old snapshots pruned",
			slog.Int("removed", removed),
		)
	}

	return path, nil
}

// RestoreLatest loads the most recent export and replaces all engine state
// with its contents.
func (s *SnapshotService) RestoreLatest(ctx context.Context) (time.Time, error) {
	rc, path, err := s.archiver.Latest(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("snapshot_service: restore latest: %w", err)
	}
	defer rc.Close()

	var snap LedgerSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return time.Time{}, fmt.Errorf("snapshot_service: decode snapshot %s: %w", path, err)
	}

	s.governance.Restore(snap.Governance)
	s.treasury.Restore(snap.Treasury)
	s.registry.Restore(snap.Registry)
	s.bridge.Restore(snap.Bridge)

	s.logger.InfoContext(ctx, "snapshot_service: state restored",
		slog.String("path", path),
		slog.Time("taken_at", snap.TakenAt),
	)
	return snap.TakenAt, nil
}

// Run exports on a fixed interval until the context is cancelled.
func (s *SnapshotService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Export(ctx); err != nil {
				s.logger.ErrorContext(ctx, "snapshot_service: export failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
