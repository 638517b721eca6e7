package geo

import (
	"math"

	"github.com/trailog/recorder/pkg/core"
)

// FilterConfig holds the sample rejection thresholds.
type FilterConfig struct {
	MaxAccuracyM float64 `json:"maxAccuracyM" mapstructure:"maxAccuracyM"`
	MaxHopM      float64 `json:"maxHopM" mapstructure:"maxHopM"`
	MaxSpeedMps  float64 `json:"maxSpeedMps" mapstructure:"maxSpeedMps"`
}

// DefaultFilterConfig returns the thresholds tuned for walking and hiking.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxAccuracyM: 30,
		MaxHopM:      120,
		MaxSpeedMps:  12,
	}
}

// Rejection explains why a sample was dropped.
type Rejection string

const (
	Accepted       Rejection = ""
	RejectAccuracy Rejection = "accuracy"
	RejectHop      Rejection = "hop"
	RejectSpeed    Rejection = "speed"
)

// Filter accepts or rejects samples one at a time and accumulates the
// distance over accepted ones. Rejected samples leave it untouched.
// A Filter is not safe for concurrent use.
type Filter struct {
	cfg    FilterConfig
	points []core.TrackPoint
	total  float64
}

// NewFilter creates an empty filter.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Check evaluates p against the last accepted point without mutating state.
// It returns the distance p would add and the reason for rejection, if any.
func (f *Filter) Check(p core.TrackPoint) (float64, Rejection) {
	if p.Accuracy != nil && *p.Accuracy > f.cfg.MaxAccuracyM {
		return 0, RejectAccuracy
	}
	if len(f.points) == 0 {
		return 0, Accepted
	}

	prev := f.points[len(f.points)-1]
	d := Haversine(prev, p)
	dt := math.Max(1, float64(p.Timestamp-prev.Timestamp)/1000)

	if d > f.cfg.MaxHopM {
		return d, RejectHop
	}
	if d/dt > f.cfg.MaxSpeedMps {
		return d, RejectSpeed
	}
	return d, Accepted
}

// Accept applies p. On success the point is appended, the total grows by
// the returned delta and ok is true.
func (f *Filter) Accept(p core.TrackPoint) (delta float64, ok bool) {
	d, why := f.Check(p)
	if why != Accepted {
		return 0, false
	}
	f.points = append(f.points, p)
	f.total += d
	return d, true
}

// Reset clears all accepted points and the running total.
func (f *Filter) Reset() {
	f.points = nil
	f.total = 0
}

// Restore replaces the filter state with previously accepted points and
// their recorded total.
func (f *Filter) Restore(points []core.TrackPoint, total float64) {
	f.points = append([]core.TrackPoint(nil), points...)
	f.total = total
}

// Total returns the accumulated distance in metres.
func (f *Filter) Total() float64 {
	return f.total
}

// Len returns the number of accepted points.
func (f *Filter) Len() int {
	return len(f.points)
}

// Points returns a copy of the accepted points.
func (f *Filter) Points() []core.TrackPoint {
	return append([]core.TrackPoint(nil), f.points...)
}

// Last returns the most recently accepted point.
func (f *Filter) Last() (core.TrackPoint, bool) {
	if len(f.points) == 0 {
		return core.TrackPoint{}, false
	}
	return f.points[len(f.points)-1], true
}
