package logbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
)

// Backup is the logbook's export file. Records carry no ids; import assigns
// fresh ones.
type Backup struct {
	Trips  []Trip  `json:"trips"`
	Tracks []Track `json:"tracks"`
	Places []Place `json:"places"`
}

// Export collects every trip, track and saved place of uid.
func (s *Service) Export(ctx context.Context, uid string) (any, error) {
	trips, err := s.trips(ctx, uid)
	if err != nil {
		return nil, err
	}
	tracks, err := s.ListTracks(ctx, uid)
	if err != nil {
		return nil, err
	}
	places, err := s.ListPlaces(ctx, uid)
	if err != nil {
		return nil, err
	}
	for i := range trips {
		trips[i].ID = ""
	}
	for i := range tracks {
		tracks[i].ID = ""
	}
	for i := range places {
		places[i].ID = ""
	}
	return Backup{Trips: trips, Tracks: tracks, Places: places}, nil
}

// ImportWrites turns a backup file into new records added next to the
// existing ones. Nothing is written here; the caller applies the batch.
func (s *Service) ImportWrites(ctx context.Context, uid string, raw json.RawMessage) ([]docstore.Write, error) {
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf("malformed logbook backup: %v", err))
	}
	now := s.now().UTC()

	writes := make([]docstore.Write, 0, len(b.Trips)+len(b.Tracks)+len(b.Places))
	add := func(path docstore.Path, data any) {
		writes = append(writes, docstore.Write{Path: path, Op: docstore.OpSet, Data: data, ExpectedVersion: docstore.MustNotExist})
	}

	for i, t := range b.Trips {
		if err := checkTrip(t); err != nil {
			return nil, invalidRecord("trip", i, err.Error())
		}
		if t.Waypoints == nil {
			t.Waypoints = []Waypoint{}
		}
		if t.DurationMinutes == nil && t.Type == geo.ModeCar && t.TimeStart != "" && t.TimeEnd != "" {
			minutes, err := DurationMinutes(t.TimeStart, t.TimeEnd)
			if err != nil {
				return nil, invalidRecord("trip", i, err.Error())
			}
			t.DurationMinutes = &minutes
		}
		t.ID = uuid.NewString()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		add(tripPath(uid, t.ID), t)
	}

	for i, t := range b.Tracks {
		if err := checkTrack(t); err != nil {
			return nil, invalidRecord("track", i, err.Error())
		}
		if t.Waypoints == nil {
			t.Waypoints = []Waypoint{}
		}
		t.ID = uuid.NewString()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		add(trackPath(uid, t.ID), t)
	}

	for i, p := range b.Places {
		if err := checkPlace(p); err != nil {
			return nil, invalidRecord("place", i, err.Error())
		}
		p.ID = uuid.NewString()
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		add(placePath(uid, p.ID), p)
	}
	return writes, nil
}

func validWaypoints(wps []Waypoint) error {
	for _, w := range wps {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func invalidRecord(kind string, index int, msg string) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf("%s #%d: %s", kind, index+1, msg))
}
