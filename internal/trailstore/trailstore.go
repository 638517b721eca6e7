// Package trailstore persists uploaded hikes for the reference trail server.
package trailstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/geo"
	"github.com/trailog/recorder/pkg/core"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound       = errors.New("trail not found")
	ErrForbidden      = errors.New("trail belongs to another user")
	ErrInvalidPayload = errors.New("invalid trail payload")
)

// Trail is one stored hike. Points keep the uploaded JSON verbatim; Track is
// the same path as EPSG:3857 WKB with altitude as Z.
type Trail struct {
	TrailID   string         `gorm:"column:trail_id;primaryKey;size:64"`
	UserID    string         `gorm:"column:user_id;size:128;index"`
	StartedAt int64          `gorm:"column:started_at;index"`
	EndedAt   int64          `gorm:"column:ended_at"`
	DistanceM int64          `gorm:"column:distance_m"`
	DurationS int64          `gorm:"column:duration_s"`
	Points    datatypes.JSON `gorm:"column:points"`
	Track     []byte         `gorm:"column:track_wkb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Trail) TableName() string {
	return "trails"
}

// API converts the row to the wire representation.
func (t Trail) API() api.Trail {
	return api.Trail{
		TrailID:    t.TrailID,
		UserID:     t.UserID,
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
		DistanceM:  t.DistanceM,
		DurationS:  t.DurationS,
		PointsJSON: string(t.Points),
	}
}

// Line decodes the stored track. A trail with fewer than two points has an
// empty line.
func (t Trail) Line() (geom.LineString, error) {
	if len(t.Track) == 0 {
		return geom.LineString{}, nil
	}
	g, err := geom.UnmarshalWKB(t.Track)
	if err != nil {
		return geom.LineString{}, fmt.Errorf("failed to decode track: %w", err)
	}
	ls, ok := g.AsLineString()
	if !ok {
		return geom.LineString{}, fmt.Errorf("track is a %s, not a line string", g.Type())
	}
	return ls, nil
}

// Store reads and writes trails through gorm.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New migrates the trails table and returns a store.
func New(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Trail{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trails: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Upsert stores the trail under trailID for userID, replacing an earlier
// upload of the same id by the same user. It reports whether the row is new.
func (s *Store) Upsert(ctx context.Context, userID, trailID string, p api.TrailPayload) (bool, error) {
	if trailID == "" {
		return false, fmt.Errorf("%w: missing trail id", ErrInvalidPayload)
	}
	if p.EndedAt < p.StartedAt || p.DistanceM < 0 || p.DurationS < 0 {
		return false, fmt.Errorf("%w: inconsistent summary", ErrInvalidPayload)
	}
	points, err := core.DecodePoints(p.PointsJSON)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	encoded, err := core.EncodePoints(points)
	if err != nil {
		return false, err
	}

	row := Trail{
		TrailID:   trailID,
		UserID:    userID,
		StartedAt: p.StartedAt,
		EndedAt:   p.EndedAt,
		DistanceM: p.DistanceM,
		DurationS: p.DurationS,
		Points:    datatypes.JSON(encoded),
	}
	line, err := geo.TrackLineString(points)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !line.IsEmpty() {
		row.Track = line.AsBinary()
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Trail
		err := tx.Select("trail_id", "user_id").Where("trail_id = ?", trailID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
		case err != nil:
			return err
		case existing.UserID != userID:
			return ErrForbidden
		}

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "trail_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"started_at", "ended_at", "distance_m", "duration_s", "points", "track_wkb", "updated_at",
			}),
		}).Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return false, err
		}
		return false, fmt.Errorf("failed to save trail: %w", err)
	}

	s.logger.Debug().
		Str("trailId", trailID).
		Str("userId", userID).
		Bool("created", created).
		Int("points", len(points)).
		Msg("trail saved")
	return created, nil
}

// Get returns one trail.
func (s *Store) Get(ctx context.Context, trailID string) (Trail, error) {
	var t Trail
	err := s.db.WithContext(ctx).Where("trail_id = ?", trailID).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Trail{}, ErrNotFound
	}
	if err != nil {
		return Trail{}, fmt.Errorf("failed to load trail: %w", err)
	}
	return t, nil
}

// List returns the user's trails, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]Trail, error) {
	var trails []Trail
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Order("trail_id ASC").
		Find(&trails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trails: %w", err)
	}
	return trails, nil
}
