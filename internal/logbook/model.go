// Package logbook is the trip/route editor and the trip, track and saved
// place records behind it.
//
// Editor state lives in draft documents (users/{uid}/logbook/drafts/items/{id})
// that a client acquires with Open and releases with Close or Save. Every
// draft edit is a server-side read-modify-write, so two open sessions never
// clobber each other's waypoint lists.
package logbook

import (
	"fmt"
	"math"
	"time"

	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
)

// ModuleID is the logbook's module identifier and document namespace.
const ModuleID = "logbook"

// Collections
const (
	collTrips  = "trips"
	collTracks = "tracks"
	collPlaces = "places"
	collDrafts = "drafts"
)

// Errors
var (
	ErrTripNotFound   = apperr.New(apperr.ErrNotFound, "trip_not_found", "trip not found")
	ErrTrackNotFound  = apperr.New(apperr.ErrNotFound, "track_not_found", "track not found")
	ErrPlaceNotFound  = apperr.New(apperr.ErrNotFound, "place_not_found", "place not found")
	ErrDraftNotFound  = apperr.New(apperr.ErrNotFound, "draft_not_found", "editor session not found")
	ErrWaypointIndex  = apperr.New(apperr.ErrInvalidInput, "invalid_waypoint_index", "waypoint index out of range")
	ErrNegativeLength = apperr.New(apperr.ErrInvalidInput, "invalid_distance", "distance must not be negative")
	ErrNameRequired   = apperr.New(apperr.ErrInvalidInput, "name_required", "a track needs a name")
	ErrNotShared      = apperr.New(apperr.ErrForbidden, "not_shared", "this trip is not shared")
)

// Waypoint is one ordered point of a route. The first is the origin and the
// last the destination.
type Waypoint struct {
	geo.Coordinate
	Name string `json:"name,omitempty"`
}

// ComputedRoute is a resolved route. Geometry is an encoded polyline; it is
// empty for routes seeded from a track template.
type ComputedRoute struct {
	DistanceKm float64 `json:"distance_km"`
	Geometry   string  `json:"geometry,omitempty"`
}

// TripFields are the form fields of a trip, edited in a draft before saving.
type TripFields struct {
	Name       string   `json:"name" validate:"max=200"`
	Date       string   `json:"date" validate:"omitempty,isodate"`
	TimeStart  string   `json:"time_start" validate:"omitempty,hhmm"`
	TimeEnd    string   `json:"time_end" validate:"omitempty,hhmm"`
	StartLabel string   `json:"start_label" validate:"max=200"`
	EndLabel   string   `json:"end_label" validate:"max=200"`
	VehicleID  string   `json:"vehicle_id" validate:"max=128"`
	Notes      string   `json:"notes" validate:"max=4000"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// Trip is a dated journey.
type Trip struct {
	ID              string     `json:"id,omitempty"`
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	Date            string     `json:"date"`
	TimeStart       string     `json:"time_start,omitempty"`
	TimeEnd         string     `json:"time_end,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	StartLabel      string     `json:"start_label,omitempty"`
	EndLabel        string     `json:"end_label,omitempty"`
	DistanceKm      float64    `json:"distance_km"`
	Waypoints       []Waypoint `json:"waypoints"`
	Geometry        string     `json:"geometry,omitempty"`
	VehicleID       string     `json:"vehicle_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IsFavorite      bool       `json:"is_favorite"`
	IsPublic        bool       `json:"is_public"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Track is a named reusable waypoint template.
type Track struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name"`
	Waypoints  []Waypoint `json:"waypoints"`
	DistanceKm float64    `json:"distance_km"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Place is a saved, geocoded address.
type Place struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	geo.Coordinate
	UpdatedAt time.Time `json:"updated_at"`
}

// Draft is the state of one editor session.
type Draft struct {
	ID        string         `json:"id"`
	Mode      string         `json:"mode"`
	TripID    string         `json:"trip_id,omitempty"`
	Waypoints []Waypoint     `json:"waypoints"`
	Route     *ComputedRoute `json:"route,omitempty"`
	Fields    TripFields     `json:"fields"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
}

// Coordinates returns the draft's waypoints as plain coordinates.
func (d *Draft) Coordinates() []geo.Coordinate {
	return coordinates(d.Waypoints)
}

func coordinates(wps []Waypoint) []geo.Coordinate {
	out := make([]geo.Coordinate, len(wps))
	for i, w := range wps {
		out[i] = w.Coordinate
	}
	return out
}

// DurationMinutes returns the minutes from start to end ("HH:MM"), modulo
// one day: a trip from 23:30 to 00:15 lasts 45 minutes.
func DurationMinutes(start, end string) (int, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return 0, fmt.Errorf("%w: start time %q", apperr.ErrInvalidInput, start)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return 0, fmt.Errorf("%w: end time %q", apperr.ErrInvalidInput, end)
	}
	const day = 24 * 60
	diff := (e.Hour()*60 + e.Minute()) - (s.Hour()*60 + s.Minute())
	return ((diff % day) + day) % day, nil
}

func roundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

func tripPath(uid, id string) docstore.Path  { return docstore.Item(uid, ModuleID, collTrips, id) }
func trackPath(uid, id string) docstore.Path { return docstore.Item(uid, ModuleID, collTracks, id) }
func placePath(uid, id string) docstore.Path { return docstore.Item(uid, ModuleID, collPlaces, id) }
func draftPath(uid, id string) docstore.Path { return docstore.Item(uid, ModuleID, collDrafts, id) }
