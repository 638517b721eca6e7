package location

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trailog/recorder/pkg/core"
)

type gpxPoint struct {
	Lat       float64   `xml:"lat,attr"`
	Lon       float64   `xml:"lon,attr"`
	Elevation *float64  `xml:"ele"`
	Time      time.Time `xml:"time"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

// LoadTrack reads a recorded track from a .gpx file or a .json points array.
func LoadTrack(path string) ([]core.TrackPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpx":
		return ParseGPX(f)
	case ".json":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read track: %w", err)
		}
		return core.DecodePoints(string(data))
	default:
		return nil, fmt.Errorf("unsupported track format %q", filepath.Ext(path))
	}
}

// ParseGPX flattens every track segment of a GPX document into one ordered
// point list. Points without a timestamp are rejected.
func ParseGPX(r io.Reader) ([]core.TrackPoint, error) {
	var doc gpxFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var points []core.TrackPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, gp := range seg.Points {
				if gp.Time.IsZero() {
					return nil, fmt.Errorf("GPX point %d has no time", len(points))
				}
				p := core.TrackPoint{
					Timestamp: gp.Time.UnixMilli(),
					Lat:       gp.Lat,
					Lon:       gp.Lon,
				}
				if gp.Elevation != nil {
					p.Alt = core.Float(*gp.Elevation)
				}
				points = append(points, p)
			}
		}
	}
	return points, nil
}
