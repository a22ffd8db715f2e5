// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"context"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// MaintenanceStore is the slice of the store the maintenance task prunes.
type MaintenanceStore interface {
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceWorker periodically prunes rows past the retention horizon.
type MaintenanceWorker struct {
	store     MaintenanceStore
	interval  time.Duration
	retention time.Duration
}

// NewMaintenanceWorker wires the retention pruning task.
func NewMaintenanceWorker(st MaintenanceStore, workers config.WorkersConfig, db config.DatabaseConfig) *MaintenanceWorker {
	return &MaintenanceWorker{
		store:     st,
		interval:  workers.MaintenanceInterval,
		retention: time.Duration(db.RetentionDays) * 24 * time.Hour,
	}
}

// Serve runs one prune per interval until the context is canceled. A
// failed prune is logged and retried on the next tick.
func (w *MaintenanceWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.prune(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *MaintenanceWorker) prune(ctx context.Context) {
	before := time.Now().UTC().Add(-w.retention)
	start := time.Now()
	pruned, err := w.store.PruneExpired(ctx, before)
	if err != nil {
		logging.Error().Err(err).Msg("retention prune failed")
		return
	}
	logging.Info().
		Int64("rows", pruned).
		Dur("took", time.Since(start)).
		Time("horizon", before).
		Msg("retention prune complete")
}
