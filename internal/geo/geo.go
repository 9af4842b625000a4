// Package geo provides the coordinate type and geodesic helpers shared by the
// routing, scoring and dispatch packages. Calculations delegate to paulmach/orb.
package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a WGS84 coordinate. Latitude and longitude are kept as named fields
// so feed payloads stay unambiguous; orb's lon-first ordering is an internal
// detail.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (p Point) orb() orb.Point { return orb.Point{p.Lon, p.Lat} }

func fromOrb(o orb.Point) Point { return Point{Lat: o[1], Lon: o[0]} }

// Valid reports whether the point lies inside the WGS84 envelope.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// IsZero reports the null-island default, treated as "no position yet".
func (p Point) IsZero() bool { return p.Lat == 0 && p.Lon == 0 }

func (p Point) String() string { return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lon) }

// DistanceMeters returns the geodesic distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.orb(), b.orb())
}

// Midpoint returns the great-circle midpoint of a and b.
func Midpoint(a, b Point) Point {
	return fromOrb(orbgeo.Midpoint(a.orb(), b.orb()))
}

// Bearing returns the initial bearing in degrees from a to b.
func Bearing(a, b Point) float64 {
	return orbgeo.Bearing(a.orb(), b.orb())
}

// Offset returns the point reached by travelling meters along bearingDeg from p.
func Offset(p Point, bearingDeg, meters float64) Point {
	return fromOrb(orbgeo.PointAtBearingAndDistance(p.orb(), bearingDeg, meters))
}

// Interpolate returns the point at fraction f of the great-circle leg a→b.
// f is clamped to [0, 1].
func Interpolate(a, b Point, f float64) Point {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	total := DistanceMeters(a, b)
	if total == 0 {
		return a
	}
	return Offset(a, Bearing(a, b), total*f)
}
