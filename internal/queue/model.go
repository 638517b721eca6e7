package queue

import (
	"github.com/trailog/recorder/pkg/core"
)

// PendingHikeRow is the persisted form of a queued hike.
type PendingHikeRow struct {
	TrailID    string  `gorm:"column:trail_id;primaryKey;size:64"`
	StartedAt  int64   `gorm:"column:started_at;not null"`
	EndedAt    int64   `gorm:"column:ended_at;not null"`
	DistanceM  int64   `gorm:"column:distance_m;not null"`
	DurationS  int64   `gorm:"column:duration_s;not null"`
	PointsJSON string  `gorm:"column:points_json;type:text;not null"`
	CreatedAt  int64   `gorm:"column:created_at;not null;index;autoCreateTime:false"`
	SyncStatus string  `gorm:"column:sync_status;size:16;not null;default:pending;index"`
	LastError  *string `gorm:"column:last_error"`
}

// TableName fixes the table name.
func (PendingHikeRow) TableName() string {
	return "pending_hikes"
}

func rowFromSummary(s core.StopSummary, createdAt int64) (PendingHikeRow, error) {
	points, err := core.EncodePoints(s.Points)
	if err != nil {
		return PendingHikeRow{}, err
	}
	return PendingHikeRow{
		TrailID:    s.TrailID,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		DistanceM:  s.DistanceM,
		DurationS:  s.DurationS,
		PointsJSON: points,
		CreatedAt:  createdAt,
		SyncStatus: string(core.SyncPending),
	}, nil
}

func (r PendingHikeRow) toPending() (core.PendingHike, error) {
	points, err := core.DecodePoints(r.PointsJSON)
	if err != nil {
		return core.PendingHike{}, err
	}
	return core.PendingHike{
		StopSummary: core.StopSummary{
			TrailID:   r.TrailID,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
			DistanceM: r.DistanceM,
			DurationS: r.DurationS,
			Points:    points,
		},
		CreatedAt:  r.CreatedAt,
		SyncStatus: core.SyncStatus(r.SyncStatus),
		LastError:  r.LastError,
	}, nil
}
