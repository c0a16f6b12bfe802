// Package geo evaluates great-circle geometry for location filters:
// point-to-point distance and bearing, the spherical direct problem,
// and point-in-keyhole membership for directional visibility shapes.
package geo

import (
	"fmt"
	"math"
)

const (
	// earthRadiusKm is the IUGG mean earth radius.
	earthRadiusKm = 6371.0088

	kmPerMile = 1.609344
)

// Point is a geographic position in decimal degrees, WGS84 axis order.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within the geographic domain.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// DistanceKm returns the great-circle distance between a and b in
// kilometers, using the haversine formula on a spherical earth.
func DistanceKm(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// KmToMiles converts kilometers to statute miles.
func KmToMiles(km float64) float64 { return km / kmPerMile }

// MilesToKm converts statute miles to kilometers.
func MilesToKm(mi float64) float64 { return mi * kmPerMile }

// Bearing returns the initial great-circle bearing from a to b in
// degrees clockwise from true north, normalized to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(degrees(math.Atan2(y, x))+360, 360)
}

// Destination solves the spherical direct problem: the point reached by
// traveling distanceKm from p along the given initial bearing.
func Destination(p Point, bearingDeg, distanceKm float64) Point {
	lat1 := radians(p.Lat)
	lon1 := radians(p.Lon)
	theta := radians(bearingDeg)
	delta := distanceKm / earthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
		math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Point{
		Lat: degrees(lat2),
		Lon: math.Mod(degrees(lon2)+540, 360) - 180,
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
