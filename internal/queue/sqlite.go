package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailog/recorder/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLite is the gorm-backed Store.
type SQLite struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLite migrates pending_hikes and returns the store.
func NewSQLite(db *gorm.DB, logger *slog.Logger) (*SQLite, error) {
	if err := db.AutoMigrate(&PendingHikeRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pending_hikes: %w", err)
	}
	return &SQLite{db: db, logger: logger, now: time.Now}, nil
}

func (q *SQLite) Upsert(ctx context.Context, s core.StopSummary) error {
	row, err := rowFromSummary(s, q.now().UnixMilli())
	if err != nil {
		return err
	}
	err = q.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trail_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"started_at", "ended_at", "distance_m", "duration_s",
			"points_json", "created_at", "sync_status", "last_error",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to queue hike %s: %w", s.TrailID, err)
	}
	q.logger.Debug("Queued hike", "trail_id", s.TrailID, "points", len(s.Points))
	return nil
}

func (q *SQLite) List(ctx context.Context, limit int) ([]core.PendingHike, error) {
	var rows []PendingHikeRow
	err := q.db.WithContext(ctx).
		Where("sync_status = ?", string(core.SyncPending)).
		Order("created_at ASC").
		Order("trail_id ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending hikes: %w", err)
	}

	hikes := make([]core.PendingHike, 0, len(rows))
	for _, r := range rows {
		h, err := r.toPending()
		if err != nil {
			// leave the row in place for inspection, it will never sync
			q.logger.Error("Skipping undecodable queued hike", "trail_id", r.TrailID, "error", err)
			continue
		}
		hikes = append(hikes, h)
	}
	return hikes, nil
}

func (q *SQLite) Delete(ctx context.Context, trailID string) error {
	err := q.db.WithContext(ctx).Where("trail_id = ?", trailID).Delete(&PendingHikeRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete queued hike %s: %w", trailID, err)
	}
	return nil
}

func (q *SQLite) MarkError(ctx context.Context, trailID, msg string) error {
	err := q.db.WithContext(ctx).Model(&PendingHikeRow{}).
		Where("trail_id = ?", trailID).
		Update("last_error", msg).Error
	if err != nil {
		return fmt.Errorf("failed to mark queued hike %s: %w", trailID, err)
	}
	return nil
}

func (q *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&PendingHikeRow{}).
		Where("sync_status = ?", string(core.SyncPending)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending hikes: %w", err)
	}
	return n, nil
}
