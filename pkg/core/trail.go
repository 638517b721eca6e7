// pkg/core/trail.go
package core

import "time"

// TrackPoint is a single accepted or candidate location sample.
// Timestamp is milliseconds since the Unix epoch.
type TrackPoint struct {
	Timestamp int64    `json:"ts"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Alt       *float64 `json:"alt,omitempty"`
	Accuracy  *float64 `json:"acc,omitempty"`
}

// Time returns the sample time.
func (p TrackPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Float returns a pointer to v, for optional altitude and accuracy fields.
func Float(v float64) *float64 {
	return &v
}

// Status is the recorder lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
)

// Active reports whether a session exists (recording or paused).
func (s Status) Active() bool {
	return s == StatusRecording || s == StatusPaused
}

// StopSummary is the immutable result of finishing a session.
type StopSummary struct {
	TrailID   string       `json:"trail_id"`
	StartedAt int64        `json:"started_at"`
	EndedAt   int64        `json:"ended_at"`
	DistanceM int64        `json:"distance_m"`
	DurationS int64        `json:"duration_s"`
	Points    []TrackPoint `json:"points"`
}

// SyncStatus marks a queued hike.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// PendingHike is a stop summary waiting in the local queue.
type PendingHike struct {
	StopSummary
	CreatedAt  int64
	SyncStatus SyncStatus
	LastError  *string
}

// Snapshot is the periodically persisted view of an in-progress session.
type Snapshot struct {
	StartTs  int64        `json:"startTs"`
	Elapsed  int64        `json:"elapsed"`
	Distance float64      `json:"distance"`
	Points   []TrackPoint `json:"points"`
	Status   Status       `json:"status"`
}

// Outcome describes where a stopped session ended up.
type Outcome int

const (
	OutcomeNotRecording Outcome = iota
	OutcomeSavedRemote
	OutcomeSavedLocal
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSavedRemote:
		return "saved_remote"
	case OutcomeSavedLocal:
		return "saved_local"
	case OutcomeFailed:
		return "failed"
	default:
		return "not_recording"
	}
}

// StopResult is returned by a stop transition. Err carries the reason a
// remote save did not happen, if any; Summary is nil for OutcomeNotRecording.
type StopResult struct {
	Outcome Outcome
	Summary *StopSummary
	Err     error
}
