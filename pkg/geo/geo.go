// Package geo provides the great-circle and bounding-rectangle helpers used by
// the spatial index and the query pipeline. All functions are pure.
package geo

import "math"

const (
	// EarthRadiusKm is the mean Earth radius used by DistanceKm.
	EarthRadiusKm = 6371.0
	// KmPerDegreeLat is the length of one degree of latitude.
	KmPerDegreeLat = 111.32

	degToRad = math.Pi / 180
	// maxLngDelta caps the longitude inflation near the poles.
	maxLngDelta = 360.0
	cosEpsilon  = 1e-12
)

// Point is a latitude/longitude pair in degrees. Longitude is not normalized.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Bounds is an axis-aligned latitude/longitude rectangle. Edges are inclusive.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// PointBounds returns the degenerate rectangle covering p.
func PointBounds(p Point) Bounds {
	return Bounds{MinLat: p.Lat, MinLng: p.Lng, MaxLat: p.Lat, MaxLng: p.Lng}
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Valid reports whether the rectangle is non-inverted.
func (b Bounds) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng
}

// DistanceKm returns the haversine great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*sinLng*sinLng
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RadiusToBounds returns a rectangle enclosing the circle of radiusKm around
// center. The longitude delta grows with 1/cos(lat) and is clamped to 360
// degrees near the poles.
func RadiusToBounds(center Point, radiusKm float64) Bounds {
	latDelta := radiusKm / KmPerDegreeLat
	lngDelta := maxLngDelta
	if c := math.Cos(center.Lat * degToRad); math.Abs(c) > cosEpsilon {
		lngDelta = math.Min(radiusKm/(KmPerDegreeLat*math.Abs(c)), maxLngDelta)
	}
	return Bounds{
		MinLat: center.Lat - latDelta,
		MinLng: center.Lng - lngDelta,
		MaxLat: center.Lat + latDelta,
		MaxLng: center.Lng + lngDelta,
	}
}

// ValidLatitude reports whether lat is a finite value in [-90, 90].
func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}
