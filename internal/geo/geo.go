package geo

import (
	"errors"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/trailog/recorder/pkg/core"
	"github.com/wroge/wgs84"
)

// Tracks are stored in EPSG:3857 as plain WKB so that SQLite, which has no
// spatial awareness, holds the same bytes as Postgres.

// ErrInvalidCoordinates is returned when a latitude or longitude is out of range
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidLatLon reports whether lat/lon are within WGS84 bounds.
func ValidLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Coords3857From4326 projects a longitude and latitude to web mercator
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidLatLon(latitude, longitude) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point = geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY})
	return point, nil
}

// TrackLineString projects a recorded track to a 3857 line string with the
// altitude as Z (0 when unknown). Fewer than two points yield an empty line.
func TrackLineString(points []core.TrackPoint) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, nil
	}

	f := wgs84.EPSG().Transform(4326, 3857)
	coords := make([]float64, 0, len(points)*3)
	for _, p := range points {
		if !ValidLatLon(p.Lat, p.Lon) {
			return geom.LineString{}, ErrInvalidCoordinates
		}
		var alt float64
		if p.Alt != nil {
			alt = *p.Alt
		}
		x, y, _ := f(p.Lon, p.Lat, 0)
		coords = append(coords, x, y, alt)
	}

	seq := geom.NewSequence(coords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}
