// Package queue is the local durable queue of hikes awaiting upload.
package queue

import (
	"context"

	"github.com/trailog/recorder/pkg/core"
)

// DefaultBatchSize caps a single List call.
const DefaultBatchSize = 25

// Store holds stop summaries until they are confirmed by the remote store.
// Rows are unique by trail id; Upsert on an existing id replaces the row.
type Store interface {
	// Upsert inserts or replaces the row for s.TrailID with pending status.
	Upsert(ctx context.Context, s core.StopSummary) error
	// List returns up to limit pending rows, oldest created first.
	// A non-positive limit means DefaultBatchSize.
	List(ctx context.Context, limit int) ([]core.PendingHike, error)
	// Delete removes the row for trailID. Absent ids are not an error.
	Delete(ctx context.Context, trailID string) error
	// MarkError records the last failure for trailID without changing status.
	MarkError(ctx context.Context, trailID, msg string) error
	// Count returns the number of pending rows.
	Count(ctx context.Context) (int64, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultBatchSize
	}
	return limit
}
