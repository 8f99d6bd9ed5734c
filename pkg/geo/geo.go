package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// MetersPerDegree is the length of one degree of latitude, and of one degree of
// longitude at the equator, used by the proximity search.
const MetersPerDegree = 111320.0

// maxSearchLat keeps the longitude delta finite near the poles.
const maxSearchLat = 89.0

// ErrInvalidCoordinates is returned for NaN, infinite or out-of-range coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Orb returns the point in orb's (lon, lat) order.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// ValidateCoordinates checks that lat is within [-90, 90] and lon within [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, lon)
	}
	return nil
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.Orb(), p2.Orb())
}

// MetersToLatDegrees converts a north-south distance into degrees of latitude.
func MetersToLatDegrees(meters float64) float64 {
	return meters / MetersPerDegree
}

// MetersToLonDegrees converts an east-west distance at the given latitude into
// degrees of longitude.
func MetersToLonDegrees(meters, lat float64) float64 {
	lat = math.Max(-maxSearchLat, math.Min(maxSearchLat, lat))
	return meters / (MetersPerDegree * math.Cos(lat*math.Pi/180.0))
}

// SearchBox returns the bounding box of centers within toleranceMeters of p.
func SearchBox(p Point, toleranceMeters float64) orb.Bound {
	return DegreeBox(p, MetersToLatDegrees(toleranceMeters), MetersToLonDegrees(toleranceMeters, p.Lat))
}

// DegreeBox returns the box [lat±latDelta] x [lon±lonDelta] around p.
func DegreeBox(p Point, latDelta, lonDelta float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{p.Lon - lonDelta, p.Lat - latDelta},
		Max: orb.Point{p.Lon + lonDelta, p.Lat + latDelta},
	}
}
