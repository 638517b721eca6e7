package core

import (
	"encoding/json"
	"fmt"
)

// EncodePoints serializes points into the points_json wire form.
// A nil slice encodes as an empty array.
func EncodePoints(points []TrackPoint) (string, error) {
	if points == nil {
		points = []TrackPoint{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return "", fmt.Errorf("failed to encode points: %w", err)
	}
	return string(b), nil
}

// DecodePoints parses the points_json wire form. An empty string yields an
// empty slice.
func DecodePoints(s string) ([]TrackPoint, error) {
	points := []TrackPoint{}
	if s == "" {
		return points, nil
	}
	if err := json.Unmarshal([]byte(s), &points); err != nil {
		return nil, fmt.Errorf("failed to decode points: %w", err)
	}
	return points, nil
}
