package logbook

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

// Trip list orderings
const (
	SortDateDesc     = "date_desc"
	SortDateAsc      = "date_asc"
	SortDistanceDesc = "distance_desc"
	SortDurationAsc  = "duration_asc"
)

// recordsLimit caps each records leaderboard.
const recordsLimit = 10

// TripFilter narrows ListTrips. Zero values match everything.
type TripFilter struct {
	Type      string `form:"type" validate:"omitempty,oneof=car walk"`
	VehicleID string `form:"vehicle_id"`
	Favorite  *bool  `form:"favorite"`
	// Query matches name, labels and notes, case-insensitively.
	Query string `form:"q"`
	From  string `form:"from"`
	To    string `form:"to"`
	// Bidirectional also matches trips going To -> From.
	Bidirectional bool   `form:"bidirectional"`
	Sort          string `form:"sort" validate:"omitempty,oneof=date_desc date_asc distance_desc duration_asc"`
}

func (f TripFilter) match(t *Trip) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.VehicleID != "" && t.VehicleID != f.VehicleID {
		return false
	}
	if f.Favorite != nil && t.IsFavorite != *f.Favorite {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		found := false
		for _, s := range []string{t.Name, t.StartLabel, t.EndLabel, t.Notes} {
			if strings.Contains(strings.ToLower(s), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	route := labelMatch(f.From, t.StartLabel) && labelMatch(f.To, t.EndLabel)
	if f.Bidirectional {
		route = route || (labelMatch(f.From, t.EndLabel) && labelMatch(f.To, t.StartLabel))
	}
	return route
}

func labelMatch(want, have string) bool {
	return want == "" || strings.EqualFold(want, have)
}

// ListTrips returns the caller's trips filtered and sorted.
func (s *Service) ListTrips(ctx context.Context, uid string, f TripFilter) ([]Trip, error) {
	if err := validation.Struct(f); err != nil {
		return nil, err
	}
	all, err := s.trips(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]Trip, 0, len(all))
	for i := range all {
		if f.match(&all[i]) {
			out = append(out, all[i])
		}
	}
	sortTrips(out, f.Sort)
	return out, nil
}

func sortTrips(trips []Trip, order string) {
	switch order {
	case SortDateAsc:
		slices.SortStableFunc(trips, func(a, b Trip) int { return cmp.Compare(a.Date, b.Date) })
	case SortDistanceDesc:
		slices.SortStableFunc(trips, func(a, b Trip) int { return cmp.Compare(b.DistanceKm, a.DistanceKm) })
	case SortDurationAsc:
		// Trips without a duration go last.
		slices.SortStableFunc(trips, func(a, b Trip) int {
			switch {
			case a.DurationMinutes == nil && b.DurationMinutes == nil:
				return 0
			case a.DurationMinutes == nil:
				return 1
			case b.DurationMinutes == nil:
				return -1
			}
			return cmp.Compare(*a.DurationMinutes, *b.DurationMinutes)
		})
	default:
		slices.SortStableFunc(trips, func(a, b Trip) int { return cmp.Compare(b.Date, a.Date) })
	}
}

// Records are the leaderboards: fastest car trips and longest walks.
type Records struct {
	FastestCar  []Trip  `json:"fastest_car"`
	LongestWalk []Trip  `json:"longest_walk"`
	TotalKm     float64 `json:"total_km"`
	TripCount   int     `json:"trip_count"`
}

// TripRecords builds the records views.
func (s *Service) TripRecords(ctx context.Context, uid string) (*Records, error) {
	all, err := s.trips(ctx, uid)
	if err != nil {
		return nil, err
	}

	rec := &Records{FastestCar: []Trip{}, LongestWalk: []Trip{}, TripCount: len(all)}
	for _, t := range all {
		rec.TotalKm += t.DistanceKm
		switch {
		case t.Type == "walk":
			rec.LongestWalk = append(rec.LongestWalk, t)
		case t.DurationMinutes != nil:
			rec.FastestCar = append(rec.FastestCar, t)
		}
	}
	rec.TotalKm = roundKm(rec.TotalKm)
	sortTrips(rec.FastestCar, SortDurationAsc)
	sortTrips(rec.LongestWalk, SortDistanceDesc)
	if len(rec.FastestCar) > recordsLimit {
		rec.FastestCar = rec.FastestCar[:recordsLimit]
	}
	if len(rec.LongestWalk) > recordsLimit {
		rec.LongestWalk = rec.LongestWalk[:recordsLimit]
	}
	return rec, nil
}

func (s *Service) trips(ctx context.Context, uid string) ([]Trip, error) {
	return docstore.ListInto(ctx, s.store, docstore.Collection(uid, ModuleID, collTrips), func(id string, t *Trip) {
		t.ID = id
	})
}

// GetTrip loads one trip.
func (s *Service) GetTrip(ctx context.Context, uid, id string) (*Trip, error) {
	return loadTrip(ctx, s.store, uid, id)
}

func loadTrip(ctx context.Context, store docstore.Store, uid, id string) (*Trip, error) {
	path := tripPath(uid, id)
	if err := path.Validate(); err != nil {
		return nil, ErrTripNotFound
	}
	t, version, err := docstore.Load[Trip](ctx, store, path)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrTripNotFound
	}
	t.ID = id
	return &t, nil
}

// DeleteTrip removes a trip.
func (s *Service) DeleteTrip(ctx context.Context, uid, id string) error {
	return deleteItem(ctx, s.store, tripPath(uid, id), ErrTripNotFound)
}

// ToggleFavorite flips a trip's favourite flag.
func (s *Service) ToggleFavorite(ctx context.Context, uid, id string) (*Trip, error) {
	return s.updateTrip(ctx, uid, id, func(t *Trip) {
		t.IsFavorite = !t.IsFavorite
	})
}

// SetPublic sets whether the trip is readable through its share link.
func (s *Service) SetPublic(ctx context.Context, uid, id string, public bool) (*Trip, error) {
	return s.updateTrip(ctx, uid, id, func(t *Trip) {
		t.IsPublic = public
	})
}

func (s *Service) updateTrip(ctx context.Context, uid, id string, fn func(*Trip)) (*Trip, error) {
	trip, _, err := docstore.UpdateInto(ctx, s.store, tripPath(uid, id), func(t *Trip) error {
		if t.Type == "" {
			return ErrTripNotFound
		}
		fn(t)
		t.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	trip.ID = id
	return &trip, nil
}

// SharedTrip returns a trip for its public share link. A private or missing
// trip yields the same ErrNotShared, so the link reveals nothing.
func SharedTrip(ctx context.Context, store docstore.Store, uid, id string) (*Trip, error) {
	trip, err := loadTrip(ctx, store, uid, id)
	if err != nil {
		if errors.Is(err, ErrTripNotFound) {
			return nil, ErrNotShared
		}
		return nil, err
	}
	if !trip.IsPublic {
		return nil, ErrNotShared
	}
	return trip, nil
}

// ListTracks returns the caller's track templates.
func (s *Service) ListTracks(ctx context.Context, uid string) ([]Track, error) {
	return docstore.ListInto(ctx, s.store, docstore.Collection(uid, ModuleID, collTracks), func(id string, t *Track) {
		t.ID = id
	})
}

// GetTrack loads one track.
func (s *Service) GetTrack(ctx context.Context, uid, id string) (*Track, error) {
	path := trackPath(uid, id)
	if err := path.Validate(); err != nil {
		return nil, ErrTrackNotFound
	}
	t, version, err := docstore.Load[Track](ctx, s.store, path)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrTrackNotFound
	}
	t.ID = id
	return &t, nil
}

// DeleteTrack removes a track. Trips seeded from it are unaffected.
func (s *Service) DeleteTrack(ctx context.Context, uid, id string) error {
	return deleteItem(ctx, s.store, trackPath(uid, id), ErrTrackNotFound)
}

// PlaceInput is a saved place as submitted by the user.
type PlaceInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"required,max=500"`
}

// SavePlace geocodes the address and stores the place; an empty id creates
// one. An address without a match blocks the save.
func (s *Service) SavePlace(ctx context.Context, uid, id string, in PlaceInput) (*Place, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	expected := docstore.MustNotExist
	if id == "" {
		id = uuid.NewString()
	} else {
		_, version, err := s.place(ctx, uid, id)
		if err != nil {
			return nil, err
		}
		expected = version
	}

	hit, err := s.geocoder.Geocode(ctx, in.Address)
	if err != nil {
		return nil, err
	}

	place := &Place{
		ID:          id,
		Name:        in.Name,
		Address:     in.Address,
		DisplayName: hit.DisplayName,
		Coordinate:  hit.Coordinate,
		UpdatedAt:   s.now().UTC(),
	}
	if _, err := s.store.Set(ctx, placePath(uid, id), place, expected); err != nil {
		return nil, fmt.Errorf("failed to save place: %w", err)
	}
	return place, nil
}

// GetPlace loads one saved place.
func (s *Service) GetPlace(ctx context.Context, uid, id string) (*Place, error) {
	p, _, err := s.place(ctx, uid, id)
	return p, err
}

func (s *Service) place(ctx context.Context, uid, id string) (*Place, int64, error) {
	path := placePath(uid, id)
	if err := path.Validate(); err != nil {
		return nil, 0, ErrPlaceNotFound
	}
	p, version, err := docstore.Load[Place](ctx, s.store, path)
	if err != nil {
		return nil, 0, err
	}
	if version == 0 {
		return nil, 0, ErrPlaceNotFound
	}
	p.ID = id
	return &p, version, nil
}

// ListPlaces returns the caller's saved places.
func (s *Service) ListPlaces(ctx context.Context, uid string) ([]Place, error) {
	return docstore.ListInto(ctx, s.store, docstore.Collection(uid, ModuleID, collPlaces), func(id string, p *Place) {
		p.ID = id
	})
}

// DeletePlace removes a saved place.
func (s *Service) DeletePlace(ctx context.Context, uid, id string) error {
	return deleteItem(ctx, s.store, placePath(uid, id), ErrPlaceNotFound)
}

// WriteTripsCSV writes trips as date,name,type,km,duration,favorite rows.
func WriteTripsCSV(w io.Writer, trips []Trip) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "name", "type", "km", "duration", "favorite"}); err != nil {
		return err
	}
	for _, t := range trips {
		duration := ""
		if t.DurationMinutes != nil {
			duration = strconv.Itoa(*t.DurationMinutes)
		}
		row := []string{
			t.Date,
			t.Name,
			t.Type,
			strconv.FormatFloat(t.DistanceKm, 'f', -1, 64),
			duration,
			strconv.FormatBool(t.IsFavorite),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PurgeStaleDrafts deletes editor drafts of all users not touched for maxAge.
func PurgeStaleDrafts(ctx context.Context, store docstore.Store, maxAge time.Duration) (int64, error) {
	return store.Sweep(ctx, ModuleID, collDrafts, time.Now().Add(-maxAge))
}

func deleteItem(ctx context.Context, store docstore.Store, path docstore.Path, notFound error) error {
	if err := path.Validate(); err != nil {
		return notFound
	}
	err := store.Delete(ctx, path, docstore.AnyVersion)
	if errors.Is(err, docstore.ErrNotFound) {
		return notFound
	}
	return err
}
