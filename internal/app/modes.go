package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantdao/ledgerd/internal/server"
	"github.com/quantdao/ledgerd/internal/server/handler"
	"github.com/quantdao/ledgerd/internal/server/middleware"
	"github.com/quantdao/ledgerd/internal/server/ws"
)

// ServeMode hydrates the engines from Postgres, starts the HTTP + WebSocket
// API, and runs the periodic snapshot exporter when enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if err := a.hydrate(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Periodic snapshot export.
	if deps.SnapshotSvc != nil {
		g.Go(func() error {
			err := deps.SnapshotSvc.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "serve mode with server.enabled=false; only background workers run")
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	return g.Wait()
}

// ExportMode hydrates the engines from Postgres, uploads one full-state
// snapshot to object storage, and exits.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting export mode")

	if deps.SnapshotSvc == nil {
		return fmt.Errorf("export mode: snapshot exporter not wired (check s3 config)")
	}
	if err := a.hydrate(ctx, deps); err != nil {
		return err
	}

	path, err := deps.SnapshotSvc.Export(ctx)
	if err != nil {
		return fmt.Errorf("export mode: %w", err)
	}

	a.logger.InfoContext(ctx, "export complete", slog.String("path", path))
	return nil
}

// ReplayMode restores the engines from the most recent object-storage
// snapshot and prints the recovered state summary. It is the disaster
// recovery and replica verification path: no database is touched.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	if deps.SnapshotSvc == nil {
		return fmt.Errorf("replay mode: snapshot exporter not wired (check s3 config)")
	}

	takenAt, err := deps.SnapshotSvc.RestoreLatest(ctx)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}

	govSnap := deps.Governance.Snapshot()
	treSnap := deps.Treasury.Snapshot()
	regSnap := deps.Registry.Snapshot()
	briSnap := deps.Bridge.Snapshot()

	a.logger.InfoContext(ctx, "replay complete",
		slog.Time("taken_at", takenAt),
		slog.Int("proposals", len(govSnap.Proposals)),
		slog.Uint64("total_voting_power", govSnap.TotalVotingPower),
		slog.Int("agents", len(treSnap.Agents)),
		slog.Int("positions", len(treSnap.Positions)),
		slog.Int("registered_agents", len(regSnap.Agents)),
		slog.Int("bridge_transactions", len(briSnap.Transactions)),
	)
	return nil
}

// hydrate loads engine state from Postgres when the stores are wired.
func (a *App) hydrate(ctx context.Context, deps *Dependencies) error {
	if deps.Hydrator == nil {
		return nil
	}

	if err := deps.Hydrator.HydrateGovernance(ctx, deps.Governance); err != nil {
		return err
	}
	if err := deps.Hydrator.HydrateTreasury(ctx, deps.Treasury); err != nil {
		return err
	}
	if err := deps.Hydrator.HydrateRegistry(ctx, deps.Registry); err != nil {
		return err
	}
	if err := deps.Hydrator.HydrateBridge(ctx, deps.Bridge); err != nil {
		return err
	}
	return nil
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			Keys: middleware.RoleKeys{
				Admin:     deps.RoleKeys.Admin,
				Governor:  deps.RoleKeys.Governor,
				Reporter:  deps.RoleKeys.Reporter,
				Validator: deps.RoleKeys.Validator,
			},
			RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(a.cfg.Mode, a.logger),
			Governance: handler.NewGovernanceHandler(deps.GovernanceSvc, a.logger),
			Treasury:   handler.NewTreasuryHandler(deps.TreasurySvc, a.logger),
			Registry:   handler.NewRegistryHandler(deps.RegistrySvc, a.logger),
			Bridge:     handler.NewBridgeHandler(deps.BridgeSvc, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
