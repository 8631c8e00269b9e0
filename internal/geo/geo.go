// Package geo provides great-circle distance math for radius-scoped alert
// matching. All coordinates are decimal degrees; callers are responsible for
// range validation.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for all distance math.
const EarthRadiusKm = 6371.0

var ErrNegativeRadius = errors.New("geo: radius must not be negative")

type Point struct {
	Lat float64
	Lon float64
}

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// Distance is HaversineKm over Points.
func Distance(a, b Point) float64 {
	return HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// WithinRadius reports whether point lies within radiusKm of center. A zero
// radius matches only the exact point; a negative radius is an input error.
func WithinRadius(center, point Point, radiusKm float64) (bool, error) {
	if radiusKm < 0 {
		return false, ErrNegativeRadius
	}
	return Distance(center, point) <= radiusKm, nil
}

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}
