// Package service wires the ledger engines to persistence, the signal bus,
// and the audit log. Engines mutate in-memory state and return events; the
// services write the affected rows through to Postgres, then publish each
// event on the bus (pub/sub for live subscribers, a stream for catch-up
// readers). Publish and audit failures are logged, never propagated: the
// state change has already been applied and persisted.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/quantdao/ledgerd/internal/domain"
)

// streamName returns the durable stream key for a component channel.
func streamName(channel string) string {
	return "events:" + channel
}

// publishEvents serializes each event and emits it on the component's
// pub/sub channel and durable stream. Failures are logged at warn level.
func publishEvents(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, events []domain.Event) {
	if bus == nil {
		return
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.WarnContext(ctx, "service: marshal event failed",
				slog.String("event", ev.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := bus.Publish(ctx, ev.Channel, payload); err != nil {
			logger.WarnContext(ctx, "service: publish event failed",
				slog.String("event", ev.Name),
				slog.String("channel", ev.Channel),
				slog.String("error", err.Error()),
			)
		}
		if err := bus.StreamAppend(ctx, streamName(ev.Channel), payload); err != nil {
			logger.WarnContext(ctx, "service: stream append failed",
				slog.String("event", ev.Name),
				slog.String("channel", ev.Channel),
				slog.String("error", err.Error()),
			)
		}
	}
}

// auditLog writes an audit entry, logging failures at warn level.
func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
