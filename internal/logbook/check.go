package logbook

import (
	"encoding/json"
	"errors"

	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/validation"
)

func checkTrip(t Trip) error {
	if t.Type != geo.ModeCar && t.Type != geo.ModeWalk {
		return errors.New("type must be car or walk")
	}
	if t.DistanceKm < 0 {
		return errors.New("distance must not be negative")
	}
	if t.Date != "" {
		if err := validation.Var(t.Date, "isodate"); err != nil {
			return errors.New("invalid date")
		}
	}
	if t.DurationMinutes != nil && *t.DurationMinutes < 0 {
		return errors.New("duration must not be negative")
	}
	return validWaypoints(t.Waypoints)
}

func checkTrack(t Track) error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	if t.DistanceKm < 0 {
		return errors.New("distance must not be negative")
	}
	return validWaypoints(t.Waypoints)
}

func checkPlace(p Place) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	return p.Coordinate.Validate()
}

// CheckDocument validates a raw write of a logbook record. Editor drafts
// are owned by the editor and cannot be written directly.
func CheckDocument(path docstore.Path, raw json.RawMessage) error {
	if path.IsMain() || path.ItemID == "" {
		return docstore.InvalidDocument("logbook records live in the trips, tracks and places collections")
	}

	var (
		id  string
		err error
	)
	switch path.Collection {
	case collTrips:
		var t Trip
		if err := docstore.DecodeStrict(raw, &t); err != nil {
			return err
		}
		id, err = t.ID, checkTrip(t)
	case collTracks:
		var t Track
		if err := docstore.DecodeStrict(raw, &t); err != nil {
			return err
		}
		id, err = t.ID, checkTrack(t)
	case collPlaces:
		var p Place
		if err := docstore.DecodeStrict(raw, &p); err != nil {
			return err
		}
		id, err = p.ID, checkPlace(p)
	case collDrafts:
		return docstore.InvalidDocument("editor drafts are changed through the editor")
	default:
		return docstore.InvalidDocument("unknown logbook collection %q", path.Collection)
	}
	if err != nil {
		return docstore.InvalidDocument("%s: %v", path.Collection, err)
	}
	if id != "" && id != path.ItemID {
		return docstore.InvalidDocument("%s: id does not match the path", path.Collection)
	}
	return nil
}
