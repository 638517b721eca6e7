// Package reconcile uploads hikes waiting in the local queue once the device
// is online and signed in.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/connectivity"
	"github.com/trailog/recorder/internal/queue"
	"github.com/trailog/recorder/pkg/core"
	"go.opentelemetry.io/otel/metric"
)

// RemoteStore saves a hike upstream. Satisfied by api.Client.
type RemoteStore interface {
	SaveTrail(ctx context.Context, token string, s core.StopSummary) error
}

// Reconciler drains the pending queue into the remote store.
type Reconciler struct {
	queue     queue.Store
	remote    RemoteStore
	oracle    connectivity.Oracle
	batchSize int
	logger    *slog.Logger

	// mu keeps two passes from interleaving.
	mu sync.Mutex

	synced metric.Int64Counter
	failed metric.Int64Counter
}

// New creates a reconciler. batchSize <= 0 uses queue.DefaultBatchSize.
func New(q queue.Store, remote RemoteStore, oracle connectivity.Oracle, batchSize int, logger *slog.Logger) (*Reconciler, error) {
	if batchSize <= 0 {
		batchSize = queue.DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		queue:     q,
		remote:    remote,
		oracle:    oracle,
		batchSize: batchSize,
		logger:    logger.With("component", "reconcile"),
	}

	m := meter()
	var err error
	r.synced, err = m.Int64Counter(
		"reconcile.hikes.synced",
		metric.WithDescription("Queued hikes confirmed by the remote store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating synced counter: %w", err)
	}
	r.failed, err = m.Int64Counter(
		"reconcile.hikes.failed",
		metric.WithDescription("Queued hikes the remote store did not accept"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return r, nil
}

// SyncPendingHikes uploads up to one batch of queued hikes, oldest first, and
// returns how many were confirmed. It does nothing without a token or while
// offline. A rejected credential stops the pass and is returned as
// api.ErrUnauthorized; every other failure is recorded on the row and logged.
func (r *Reconciler) SyncPendingHikes(ctx context.Context, token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	st, err := r.oracle.FetchStatus(ctx)
	if err != nil {
		r.logger.Debug("Connectivity check failed", "error", err)
		return 0, nil
	}
	if !st.Online() {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hikes, err := r.queue.List(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to list pending hikes", "error", err)
		return 0, nil
	}
	if len(hikes) == 0 {
		return 0, nil
	}
	r.logger.Info("Syncing pending hikes", "count", len(hikes))

	synced := 0
	for _, h := range hikes {
		if ctx.Err() != nil {
			break
		}

		err := r.remote.SaveTrail(ctx, token, h.StopSummary)
		if err == nil {
			if derr := r.queue.Delete(ctx, h.TrailID); derr != nil {
				r.logger.Warn("Failed to remove synced hike", "trailId", h.TrailID, "error", derr)
			}
			synced++
			r.synced.Add(ctx, 1)
			continue
		}

		r.failed.Add(ctx, 1)
		if merr := r.queue.MarkError(ctx, h.TrailID, err.Error()); merr != nil {
			r.logger.Warn("Failed to record sync error", "trailId", h.TrailID, "error", merr)
		}
		if errors.Is(err, api.ErrUnauthorized) {
			r.logger.Warn("Credential rejected, stopping sync", "trailId", h.TrailID, "synced", synced)
			return synced, api.ErrUnauthorized
		}
		r.logger.Warn("Failed to sync hike", "trailId", h.TrailID, "error", err)
	}

	r.logger.Info("Sync pass finished", "synced", synced, "attempted", len(hikes))
	return synced, nil
}
