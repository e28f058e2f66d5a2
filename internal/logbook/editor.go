package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/polyline"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// Service implements the editor and record operations for one store.
type Service struct {
	store    docstore.Store
	router   geo.Router
	geocoder geo.Geocoder
	now      func() time.Time
}

// NewService creates a logbook service.
func NewService(store docstore.Store, router geo.Router, geocoder geo.Geocoder) *Service {
	return &Service{store: store, router: router, geocoder: geocoder, now: time.Now}
}

// OpenRequest selects what a new editor session starts from.
type OpenRequest struct {
	Mode    string `json:"mode" validate:"omitempty,oneof=car walk"`
	TripID  string `json:"trip_id" validate:"max=128"`
	TrackID string `json:"track_id" validate:"max=128"`
}

// Open acquires a new editor draft. With TripID the draft edits that trip in
// place; with TrackID it is seeded from the track template.
func (s *Service) Open(ctx context.Context, uid string, req OpenRequest) (*Draft, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = geo.ModeCar
	}

	d := &Draft{
		ID:        uuid.NewString(),
		Mode:      mode,
		Waypoints: []Waypoint{},
		CreatedAt: s.now().UTC(),
	}

	if req.TripID != "" {
		trip, err := s.GetTrip(ctx, uid, req.TripID)
		if err != nil {
			return nil, err
		}
		d.TripID = trip.ID
		d.Mode = trip.Type
		d.Waypoints = append(d.Waypoints, trip.Waypoints...)
		d.Route = &ComputedRoute{DistanceKm: trip.DistanceKm, Geometry: trip.Geometry}
		d.Fields = TripFields{
			Name:       trip.Name,
			Date:       trip.Date,
			TimeStart:  trip.TimeStart,
			TimeEnd:    trip.TimeEnd,
			StartLabel: trip.StartLabel,
			EndLabel:   trip.EndLabel,
			VehicleID:  trip.VehicleID,
			Notes:      trip.Notes,
		}
	}
	if req.TrackID != "" {
		track, err := s.GetTrack(ctx, uid, req.TrackID)
		if err != nil {
			return nil, err
		}
		applyTemplate(d, track)
	}

	doc, err := s.store.Set(ctx, draftPath(uid, d.ID), d, docstore.MustNotExist)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	d.Version = doc.Version
	return d, nil
}

// Draft returns the current state of an editor session.
func (s *Service) Draft(ctx context.Context, uid, id string) (*Draft, error) {
	d, version, err := docstore.Load[Draft](ctx, s.store, draftPath(uid, id))
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		return nil, ErrDraftNotFound
	}
	d.Version = version
	return &d, nil
}

// Close tears an editor session down. Closing an unknown draft is not an error.
func (s *Service) Close(ctx context.Context, uid, id string) error {
	err := s.store.Delete(ctx, draftPath(uid, id), docstore.AnyVersion)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return nil
}

// AddWaypoint appends a waypoint. Duplicates are allowed.
func (s *Service) AddWaypoint(ctx context.Context, uid, id string, wp Waypoint) (*Draft, error) {
	if err := wp.Validate(); err != nil {
		return nil, err
	}
	return s.edit(ctx, uid, id, func(d *Draft) error {
		d.Waypoints = append(d.Waypoints, wp)
		d.Route = nil
		return nil
	})
}

// AddPlace appends a saved place as a waypoint.
func (s *Service) AddPlace(ctx context.Context, uid, id, placeID string) (*Draft, error) {
	place, err := s.GetPlace(ctx, uid, placeID)
	if err != nil {
		return nil, err
	}
	return s.AddWaypoint(ctx, uid, id, Waypoint{Coordinate: place.Coordinate, Name: place.Name})
}

// RemoveWaypoint removes the waypoint at index; later waypoints shift down.
func (s *Service) RemoveWaypoint(ctx context.Context, uid, id string, index int) (*Draft, error) {
	return s.edit(ctx, uid, id, func(d *Draft) error {
		if index < 0 || index >= len(d.Waypoints) {
			return ErrWaypointIndex
		}
		d.Waypoints = append(d.Waypoints[:index], d.Waypoints[index+1:]...)
		d.Route = nil
		return nil
	})
}

// MoveWaypoint replaces the coordinate at index, keeping its name and position.
func (s *Service) MoveWaypoint(ctx context.Context, uid, id string, index int, to geo.Coordinate) (*Draft, error) {
	if err := to.Validate(); err != nil {
		return nil, err
	}
	return s.edit(ctx, uid, id, func(d *Draft) error {
		if index < 0 || index >= len(d.Waypoints) {
			return ErrWaypointIndex
		}
		d.Waypoints[index].Coordinate = to
		d.Route = nil
		return nil
	})
}

// Reset clears the waypoints and any computed route.
func (s *Service) Reset(ctx context.Context, uid, id string) (*Draft, error) {
	return s.edit(ctx, uid, id, func(d *Draft) error {
		d.Waypoints = []Waypoint{}
		d.Route = nil
		return nil
	})
}

// SetMode switches between car and walk. The computed route is dropped.
func (s *Service) SetMode(ctx context.Context, uid, id, mode string) (*Draft, error) {
	if mode != geo.ModeCar && mode != geo.ModeWalk {
		return nil, geo.ErrInvalidMode
	}
	return s.edit(ctx, uid, id, func(d *Draft) error {
		if d.Mode != mode {
			d.Mode = mode
			d.Route = nil
		}
		return nil
	})
}

// UpdateFields replaces the draft's form fields.
func (s *Service) UpdateFields(ctx context.Context, uid, id string, fields TripFields) (*Draft, error) {
	if err := validation.Struct(fields); err != nil {
		return nil, err
	}
	if fields.DistanceKm != nil && *fields.DistanceKm < 0 {
		return nil, ErrNegativeLength
	}
	return s.edit(ctx, uid, id, func(d *Draft) error {
		d.Fields = fields
		return nil
	})
}

// LoadTemplate copies a track's waypoints and distance into the draft. The
// track's identity is not copied.
func (s *Service) LoadTemplate(ctx context.Context, uid, id, trackID string) (*Draft, error) {
	track, err := s.GetTrack(ctx, uid, trackID)
	if err != nil {
		return nil, err
	}
	return s.edit(ctx, uid, id, func(d *Draft) error {
		applyTemplate(d, track)
		return nil
	})
}

func applyTemplate(d *Draft, track *Track) {
	d.Waypoints = append([]Waypoint{}, track.Waypoints...)
	d.Route = &ComputedRoute{DistanceKm: track.DistanceKm}
	if d.Fields.Name == "" {
		d.Fields.Name = track.Name
	}
}

// ComputeRoute resolves the draft's waypoints into a route. With fewer than
// two waypoints it does nothing. The router is called outside any lock and
// the result is written only if the draft did not change meanwhile; on any
// failure the previous state is kept.
func (s *Service) ComputeRoute(ctx context.Context, uid, id string) (*Draft, error) {
	d, err := s.Draft(ctx, uid, id)
	if err != nil {
		return nil, err
	}
	if len(d.Waypoints) < 2 {
		return d, nil
	}

	route, err := s.router.Route(ctx, d.Mode, d.Coordinates())
	if err != nil {
		return nil, err
	}
	d.Route = &ComputedRoute{
		DistanceKm: roundKm(route.DistanceKm),
		Geometry:   polyline.Encode(geo.Pairs(route.Geometry)),
	}

	doc, err := s.store.Set(ctx, draftPath(uid, id), d, d.Version)
	if err != nil {
		return nil, err
	}
	d.Version = doc.Version
	return d, nil
}

// SaveResult carries whichever record Save wrote.
type SaveResult struct {
	Trip  *Trip  `json:"trip,omitempty"`
	Track *Track `json:"track,omitempty"`
}

// Save persists the draft as a Track (name, waypoints and distance only) or
// as a Trip, then releases the draft. A draft opened on an existing trip
// updates it in place and keeps its creation time. The record and the draft
// release commit together, so a draft can be saved at most once.
func (s *Service) Save(ctx context.Context, uid, id string, asTrack bool) (*SaveResult, error) {
	d, err := s.Draft(ctx, uid, id)
	if err != nil {
		return nil, err
	}

	var (
		result SaveResult
		record docstore.Write
	)
	if asTrack {
		result.Track, record, err = s.saveTrack(uid, d)
	} else {
		result.Trip, record, err = s.saveTrip(ctx, uid, d)
	}
	if err != nil {
		return nil, err
	}

	release := docstore.Write{Path: draftPath(uid, id), Op: docstore.OpDelete, ExpectedVersion: d.Version}
	if _, err := s.store.Batch(ctx, []docstore.Write{record, release}); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	return &result, nil
}

func (s *Service) saveTrack(uid string, d *Draft) (*Track, docstore.Write, error) {
	if d.Fields.Name == "" {
		return nil, docstore.Write{}, ErrNameRequired
	}
	distance, err := draftDistance(d)
	if err != nil {
		return nil, docstore.Write{}, err
	}
	track := &Track{
		ID:         uuid.NewString(),
		Name:       d.Fields.Name,
		Waypoints:  d.Waypoints,
		DistanceKm: distance,
		CreatedAt:  s.now().UTC(),
	}
	return track, docstore.Write{Path: trackPath(uid, track.ID), Op: docstore.OpSet, Data: track, ExpectedVersion: docstore.MustNotExist}, nil
}

func (s *Service) saveTrip(ctx context.Context, uid string, d *Draft) (*Trip, docstore.Write, error) {
	distance, err := draftDistance(d)
	if err != nil {
		return nil, docstore.Write{}, err
	}
	f := d.Fields
	now := s.now().UTC()

	fill := func(t *Trip) error {
		t.Type = d.Mode
		t.Name = f.Name
		t.Date = f.Date
		if t.Date == "" {
			t.Date = now.Format(time.DateOnly)
		}
		t.TimeStart, t.TimeEnd = f.TimeStart, f.TimeEnd
		t.DurationMinutes = nil
		if d.Mode == geo.ModeCar && f.TimeStart != "" && f.TimeEnd != "" {
			minutes, err := DurationMinutes(f.TimeStart, f.TimeEnd)
			if err != nil {
				return err
			}
			t.DurationMinutes = &minutes
		}
		t.StartLabel, t.EndLabel = f.StartLabel, f.EndLabel
		t.DistanceKm = distance
		t.Waypoints = d.Waypoints
		t.Geometry = ""
		if d.Route != nil {
			t.Geometry = d.Route.Geometry
		}
		t.VehicleID = f.VehicleID
		t.Notes = f.Notes
		t.UpdatedAt = now
		return nil
	}

	if d.TripID == "" {
		trip := &Trip{ID: uuid.NewString(), CreatedAt: now}
		if err := fill(trip); err != nil {
			return nil, docstore.Write{}, err
		}
		return trip, docstore.Write{Path: tripPath(uid, trip.ID), Op: docstore.OpSet, Data: trip, ExpectedVersion: docstore.MustNotExist}, nil
	}

	path := tripPath(uid, d.TripID)
	trip, version, err := docstore.Load[Trip](ctx, s.store, path)
	if err != nil {
		return nil, docstore.Write{}, err
	}
	if trip.ID == "" {
		return nil, docstore.Write{}, ErrTripNotFound
	}
	if err := fill(&trip); err != nil {
		return nil, docstore.Write{}, err
	}
	return &trip, docstore.Write{Path: path, Op: docstore.OpSet, Data: &trip, ExpectedVersion: version}, nil
}

// draftDistance is the computed route's distance, else the manually entered
// one, else zero.
func draftDistance(d *Draft) (float64, error) {
	switch {
	case d.Route != nil:
		return d.Route.DistanceKm, nil
	case d.Fields.DistanceKm != nil:
		if *d.Fields.DistanceKm < 0 {
			return 0, ErrNegativeLength
		}
		return *d.Fields.DistanceKm, nil
	default:
		return 0, nil
	}
}

// RouteResult is the answer of the stateless route endpoint.
type RouteResult struct {
	DistanceKm float64          `json:"distance_km"`
	Geometry   []geo.Coordinate `json:"geometry"`
	Polyline   string           `json:"polyline"`
}

// Route resolves waypoints without touching any draft. Fewer than two
// waypoints yield an empty result and no upstream call.
func (s *Service) Route(ctx context.Context, mode string, waypoints []geo.Coordinate) (*RouteResult, error) {
	if mode != geo.ModeCar && mode != geo.ModeWalk {
		return nil, geo.ErrInvalidMode
	}
	for _, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return nil, err
		}
	}
	if len(waypoints) < 2 {
		return &RouteResult{Geometry: []geo.Coordinate{}}, nil
	}
	route, err := s.router.Route(ctx, mode, waypoints)
	if err != nil {
		return nil, err
	}
	return &RouteResult{
		DistanceKm: roundKm(route.DistanceKm),
		Geometry:   route.Geometry,
		Polyline:   polyline.Encode(geo.Pairs(route.Geometry)),
	}, nil
}

// edit applies fn to a draft under the store's row lock.
func (s *Service) edit(ctx context.Context, uid, id string, fn func(*Draft) error) (*Draft, error) {
	d, doc, err := docstore.UpdateInto(ctx, s.store, draftPath(uid, id), func(d *Draft) error {
		if d.ID == "" {
			return ErrDraftNotFound
		}
		return fn(d)
	})
	if err != nil {
		return nil, err
	}
	d.Version = doc.Version
	return &d, nil
}
