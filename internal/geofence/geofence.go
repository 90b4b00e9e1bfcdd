// Package geofence decides whether a coordinate lies inside a circular fence.
package geofence

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Valid reports whether both components are finite numbers.
func (c Coordinate) Valid() bool {
	return isFinite(c.Latitude) && isFinite(c.Longitude)
}

// Fence is a circular region around Center.
type Fence struct {
	Center       Coordinate
	RadiusMeters int
}

// Evaluate measures p against the fence.
func (f Fence) Evaluate(p Coordinate) (distanceMeters int, withinRadius bool) {
	return Evaluate(p, f.Center, f.RadiusMeters)
}

// Evaluate returns the great-circle distance between a and b rounded to the
// nearest metre, and whether that rounded distance is within radiusMeters.
func Evaluate(a, b Coordinate, radiusMeters int) (distanceMeters int, withinRadius bool) {
	distanceMeters = int(math.Round(Haversine(a, b)))
	return distanceMeters, distanceMeters <= radiusMeters
}

// Haversine returns the unrounded distance in metres between a and b.
func Haversine(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Floating error can push h a hair outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
