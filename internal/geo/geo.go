// Package geo holds coordinates, great-circle distances and the clients for
// the external geocoding and routing services. Both clients run server-side
// so the routing credential never leaves the backend.
package geo

import (
	"fmt"
	"math"

	"github.com/nexus-dashboard/nexus/internal/apperr"
)

const earthRadiusKm = 6371.0

// Errors
var (
	ErrInvalidCoordinate = apperr.New(apperr.ErrInvalidInput, "invalid_coordinate", "latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrAddressNotFound   = apperr.New(apperr.ErrUnprocessable, "address_not_found", "address not found")
	ErrNoRoute           = apperr.New(apperr.ErrUpstream, "no_route", "routing service returned no route")
	ErrRoutingFailed     = apperr.New(apperr.ErrUpstream, "routing_failed", "routing service unavailable")
	ErrGeocodingFailed   = apperr.New(apperr.ErrUpstream, "geocoding_failed", "geocoding service unavailable")
	ErrInvalidMode       = apperr.New(apperr.ErrInvalidInput, "invalid_mode", "mode must be car or walk")
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects out-of-range or non-finite values.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) ||
		c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, c.Lat, c.Lng)
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// PathLength sums the great-circle segments of an ordered path.
func PathLength(points []Coordinate) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}

// Pairs converts coordinates to [lat, lng] pairs.
func Pairs(points []Coordinate) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lat, p.Lng}
	}
	return out
}

// FromPairs converts [lat, lng] pairs to coordinates.
func FromPairs(pairs [][2]float64) []Coordinate {
	out := make([]Coordinate, len(pairs))
	for i, p := range pairs {
		out[i] = Coordinate{Lat: p[0], Lng: p[1]}
	}
	return out
}
