package geo

import (
	"math"

	"github.com/trailog/recorder/pkg/core"
)

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6_371_000.0

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Haversine returns the great-circle distance between two points in metres.
func Haversine(a, b core.TrackPoint) float64 {
	return HaversineLatLon(a.Lat, a.Lon, b.Lat, b.Lon)
}

// HaversineLatLon is Haversine over raw degree pairs.
func HaversineLatLon(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PathLength sums Haversine over consecutive points.
func PathLength(points []core.TrackPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}
