package logbook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/polyline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	calls int
	err   error
}

func (f *fakeRouter) Route(_ context.Context, _ string, wps []geo.Coordinate) (*geo.Route, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &geo.Route{DistanceKm: 12.3456, Geometry: wps}, nil
}

type fakeGeocoder map[string]geo.Coordinate

func (f fakeGeocoder) Geocode(_ context.Context, q string) (*geo.Place, error) {
	c, ok := f[q]
	if !ok {
		return nil, geo.ErrAddressNotFound
	}
	return &geo.Place{Coordinate: c, DisplayName: q + ", Italy"}, nil
}

var (
	rome  = geo.Coordinate{Lat: 41.9028, Lng: 12.4964}
	milan = geo.Coordinate{Lat: 45.4642, Lng: 9.19}
	turin = geo.Coordinate{Lat: 45.0703, Lng: 7.6869}
)

func newTestService() (*Service, *fakeRouter, docstore.Store) {
	store := docstore.NewMemoryStore()
	router := &fakeRouter{}
	svc := NewService(store, router, fakeGeocoder{"Via Roma 1, Milano": milan})
	return svc, router, store
}

func wp(c geo.Coordinate) Waypoint { return Waypoint{Coordinate: c} }

func TestDurationMinutes(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
	}{
		{"23:30", "00:15", 45},
		{"08:15", "09:45", 90},
		{"10:00", "10:00", 0},
		{"00:00", "23:59", 1439},
	}
	for _, tc := range cases {
		got, err := DurationMinutes(tc.start, tc.end)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.start, tc.end)
	}

	_, err := DurationMinutes("25:00", "10:00")
	assert.Error(t, err)
}

func TestEditorWaypointEdits(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeWalk})
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Version)

	for _, c := range []geo.Coordinate{rome, milan, rome} {
		d, err = svc.AddWaypoint(ctx, "u1", d.ID, wp(c))
		require.NoError(t, err)
	}
	assert.Len(t, d.Waypoints, 3, "duplicates are kept")

	d, err = svc.RemoveWaypoint(ctx, "u1", d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []Waypoint{wp(rome), wp(rome)}, d.Waypoints)

	d, err = svc.MoveWaypoint(ctx, "u1", d.ID, 1, turin)
	require.NoError(t, err)
	assert.Equal(t, []Waypoint{wp(rome), wp(turin)}, d.Waypoints)

	_, err = svc.RemoveWaypoint(ctx, "u1", d.ID, 5)
	assert.ErrorIs(t, err, ErrWaypointIndex)

	_, err = svc.AddWaypoint(ctx, "u1", d.ID, wp(geo.Coordinate{Lat: 91, Lng: 0}))
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	d, err = svc.Reset(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Waypoints)
	assert.Nil(t, d.Route)

	_, err = svc.AddWaypoint(ctx, "u2", d.ID, wp(rome))
	assert.ErrorIs(t, err, ErrDraftNotFound, "drafts are per user")
}

func TestComputeRouteNeedsTwoWaypoints(t *testing.T) {
	svc, router, _ := newTestService()
	ctx := context.Background()

	d, err := svc.Open(ctx, "u1", OpenRequest{})
	require.NoError(t, err)
	d, err = svc.ComputeRoute(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Nil(t, d.Route)

	_, err = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	require.NoError(t, err)
	d, err = svc.ComputeRoute(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Nil(t, d.Route)
	assert.Zero(t, router.calls)

	res, err := svc.Route(ctx, geo.ModeCar, []geo.Coordinate{rome})
	require.NoError(t, err)
	assert.Zero(t, res.DistanceKm)
	assert.Zero(t, router.calls)
}

func TestComputeRouteCar(t *testing.T) {
	svc, router, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeCar})
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(milan))

	d, err := svc.ComputeRoute(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, router.calls)
	require.NotNil(t, d.Route)
	assert.Equal(t, 12.35, d.Route.DistanceKm)

	line, err := polyline.Decode(d.Route.Geometry)
	require.NoError(t, err)
	require.Len(t, line, 2)
	assert.InDelta(t, rome.Lat, line[0][0], 1e-5)
	assert.InDelta(t, milan.Lng, line[1][1], 1e-5)

	// any edit invalidates the route
	d, err = svc.AddWaypoint(ctx, "u1", d.ID, wp(turin))
	require.NoError(t, err)
	assert.Nil(t, d.Route)
}

func TestComputeRouteFailureKeepsState(t *testing.T) {
	svc, router, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeCar})
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(milan))
	before, err := svc.ComputeRoute(ctx, "u1", d.ID)
	require.NoError(t, err)

	router.err = geo.ErrNoRoute
	_, err = svc.ComputeRoute(ctx, "u1", d.ID)
	assert.ErrorIs(t, err, geo.ErrNoRoute)
	assert.Equal(t, 2, router.calls, "no retry")

	after, err := svc.Draft(ctx, "u1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Route, after.Route)
	assert.Equal(t, before.Version, after.Version)
}

func TestSaveTripAndEditKeepsCreatedAt(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }

	d, _ := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeCar})
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(milan))
	_, _ = svc.ComputeRoute(ctx, "u1", d.ID)
	_, err := svc.UpdateFields(ctx, "u1", d.ID, TripFields{Name: "Night drive", Date: "2024-03-01", TimeStart: "23:30", TimeEnd: "00:15"})
	require.NoError(t, err)

	res, err := svc.Save(ctx, "u1", d.ID, false)
	require.NoError(t, err)
	trip := res.Trip
	require.NotNil(t, trip)
	require.NotNil(t, trip.DurationMinutes)
	assert.Equal(t, 45, *trip.DurationMinutes)
	assert.Equal(t, 12.35, trip.DistanceKm)
	assert.Len(t, trip.Waypoints, 2)

	_, err = svc.Draft(ctx, "u1", d.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound, "saving releases the draft")

	// edit in place later
	svc.now = func() time.Time { return created.Add(48 * time.Hour) }
	d, err = svc.Open(ctx, "u1", OpenRequest{TripID: trip.ID})
	require.NoError(t, err)
	assert.Equal(t, "Night drive", d.Fields.Name)
	fields := d.Fields
	fields.Name = "Renamed"
	_, err = svc.UpdateFields(ctx, "u1", d.ID, fields)
	require.NoError(t, err)
	res, err = svc.Save(ctx, "u1", d.ID, false)
	require.NoError(t, err)

	got, err := svc.GetTrip(ctx, "u1", trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.After(created))
	assert.Equal(t, 12.35, got.DistanceKm)

	trips, err := svc.ListTrips(ctx, "u1", TripFilter{})
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

// interleavedStore runs beforeBatch once, ahead of the first batch, to
// replay a concurrent request that read the same state.
type interleavedStore struct {
	docstore.Store
	beforeBatch func()
}

func (s *interleavedStore) Batch(ctx context.Context, writes []docstore.Write) ([]*docstore.Document, error) {
	if fn := s.beforeBatch; fn != nil {
		s.beforeBatch = nil
		fn()
	}
	return s.Store.Batch(ctx, writes)
}

func TestSaveDraftTwiceCreatesOneTrip(t *testing.T) {
	store := &interleavedStore{Store: docstore.NewMemoryStore()}
	svc := NewService(store, &fakeRouter{}, fakeGeocoder{})
	ctx := context.Background()

	d, err := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeWalk})
	require.NoError(t, err)
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(milan))
	_, err = svc.ComputeRoute(ctx, "u1", d.ID)
	require.NoError(t, err)

	var first *SaveResult
	store.beforeBatch = func() {
		first, err = svc.Save(ctx, "u1", d.ID, false)
		require.NoError(t, err)
	}
	_, err = svc.Save(ctx, "u1", d.ID, false)
	require.ErrorIs(t, err, docstore.ErrVersionConflict)
	status, _ := apperr.Status(err)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, first)

	trips, err := svc.ListTrips(ctx, "u1", TripFilter{})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, first.Trip.ID, trips[0].ID)

	_, err = svc.Save(ctx, "u1", d.ID, false)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestManualDistanceMustNotBeNegative(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeWalk})
	neg := -1.0
	_, err := svc.UpdateFields(ctx, "u1", d.ID, TripFields{DistanceKm: &neg})
	assert.ErrorIs(t, err, ErrNegativeLength)

	km := 4.2
	_, err = svc.UpdateFields(ctx, "u1", d.ID, TripFields{DistanceKm: &km})
	require.NoError(t, err)
	res, err := svc.Save(ctx, "u1", d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 4.2, res.Trip.DistanceKm)
	assert.Nil(t, res.Trip.DurationMinutes)
}

func TestTrackTemplate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Open(ctx, "u1", OpenRequest{Mode: geo.ModeWalk})
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(rome))
	_, _ = svc.AddWaypoint(ctx, "u1", d.ID, wp(milan))
	_, _ = svc.ComputeRoute(ctx, "u1", d.ID)

	_, err := svc.Save(ctx, "u1", d.ID, true)
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.UpdateFields(ctx, "u1", d.ID, TripFields{Name: "Commute"})
	require.NoError(t, err)
	res, err := svc.Save(ctx, "u1", d.ID, true)
	require.NoError(t, err)
	track := res.Track
	require.NotNil(t, track)
	assert.Nil(t, res.Trip)

	d, err = svc.Open(ctx, "u1", OpenRequest{TrackID: track.ID})
	require.NoError(t, err)
	assert.Equal(t, track.Waypoints, d.Waypoints)
	require.NotNil(t, d.Route)
	assert.Equal(t, track.DistanceKm, d.Route.DistanceKm)
	assert.Empty(t, d.TripID)

	res, err = svc.Save(ctx, "u1", d.ID, false)
	require.NoError(t, err)
	assert.NotEqual(t, track.ID, res.Trip.ID)

	tracks, err := svc.ListTracks(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, tracks, 1)
}

func seedTrips(t *testing.T, store docstore.Store, uid string, trips ...Trip) {
	t.Helper()
	for _, trip := range trips {
		_, err := store.Set(context.Background(), tripPath(uid, trip.ID), trip, docstore.MustNotExist)
		require.NoError(t, err)
	}
}

func minutes(n int) *int { return &n }

func TestListTripsFiltersAndRecords(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()
	seedTrips(t, store, "u1",
		Trip{ID: "a", Type: "car", Name: "Work", Date: "2024-01-03", StartLabel: "Home", EndLabel: "Office", DistanceKm: 20, DurationMinutes: minutes(30), VehicleID: "v1"},
		Trip{ID: "b", Type: "car", Name: "Back", Date: "2024-01-04", StartLabel: "Office", EndLabel: "Home", DistanceKm: 21, DurationMinutes: minutes(25), IsFavorite: true},
		Trip{ID: "c", Type: "walk", Name: "Park loop", Date: "2024-01-01", DistanceKm: 5},
		Trip{ID: "d", Type: "walk", Name: "Hike", Date: "2024-01-02", DistanceKm: 12, Notes: "mountain"},
	)

	ids := func(trips []Trip) []string {
		out := []string{}
		for _, t := range trips {
			out = append(out, t.ID)
		}
		return out
	}

	all, err := svc.ListTrips(ctx, "u1", TripFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "d", "c"}, ids(all))

	walks, _ := svc.ListTrips(ctx, "u1", TripFilter{Type: "walk", Sort: SortDistanceDesc})
	assert.Equal(t, []string{"d", "c"}, ids(walks))

	fav := true
	favs, _ := svc.ListTrips(ctx, "u1", TripFilter{Favorite: &fav})
	assert.Equal(t, []string{"b"}, ids(favs))

	q, _ := svc.ListTrips(ctx, "u1", TripFilter{Query: "MOUNT"})
	assert.Equal(t, []string{"d"}, ids(q))

	oneWay, _ := svc.ListTrips(ctx, "u1", TripFilter{From: "home", To: "office"})
	assert.Equal(t, []string{"a"}, ids(oneWay))
	both, _ := svc.ListTrips(ctx, "u1", TripFilter{From: "home", To: "office", Bidirectional: true, Sort: SortDateAsc})
	assert.Equal(t, []string{"a", "b"}, ids(both))

	_, err = svc.ListTrips(ctx, "u1", TripFilter{Sort: "random"})
	assert.Error(t, err)

	rec, err := svc.TripRecords(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(rec.FastestCar))
	assert.Equal(t, []string{"d", "c"}, ids(rec.LongestWalk))
	assert.Equal(t, 58.0, rec.TotalKm)
	assert.Equal(t, 4, rec.TripCount)
}

func TestFavoriteAndSharing(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()
	seedTrips(t, store, "u1", Trip{ID: "a", Type: "car", Name: "Secret", Date: "2024-01-03"})

	_, err := SharedTrip(ctx, store, "u1", "a")
	assert.ErrorIs(t, err, ErrNotShared)
	_, err = SharedTrip(ctx, store, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotShared)

	trip, err := svc.SetPublic(ctx, "u1", "a", true)
	require.NoError(t, err)
	assert.True(t, trip.IsPublic)
	shared, err := SharedTrip(ctx, store, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, "Secret", shared.Name)

	trip, err = svc.ToggleFavorite(ctx, "u1", "a")
	require.NoError(t, err)
	assert.True(t, trip.IsFavorite)
	trip, err = svc.ToggleFavorite(ctx, "u1", "a")
	require.NoError(t, err)
	assert.False(t, trip.IsFavorite)

	_, err = svc.ToggleFavorite(ctx, "u1", "nope")
	assert.ErrorIs(t, err, ErrTripNotFound)

	require.NoError(t, svc.DeleteTrip(ctx, "u1", "a"))
	assert.ErrorIs(t, svc.DeleteTrip(ctx, "u1", "a"), ErrTripNotFound)
}

func TestPlacesAreGeocoded(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SavePlace(ctx, "u1", "", PlaceInput{Name: "Nowhere", Address: "???"})
	assert.ErrorIs(t, err, geo.ErrAddressNotFound)
	places, _ := svc.ListPlaces(ctx, "u1")
	assert.Empty(t, places, "a failed lookup stores nothing")

	place, err := svc.SavePlace(ctx, "u1", "", PlaceInput{Name: "Office", Address: "Via Roma 1, Milano"})
	require.NoError(t, err)
	assert.Equal(t, milan, place.Coordinate)

	place, err = svc.SavePlace(ctx, "u1", place.ID, PlaceInput{Name: "HQ", Address: "Via Roma 1, Milano"})
	require.NoError(t, err)
	assert.Equal(t, "HQ", place.Name)

	d, _ := svc.Open(ctx, "u1", OpenRequest{})
	d, err = svc.AddPlace(ctx, "u1", d.ID, place.ID)
	require.NoError(t, err)
	assert.Equal(t, []Waypoint{{Coordinate: milan, Name: "HQ"}}, d.Waypoints)

	require.NoError(t, svc.DeletePlace(ctx, "u1", place.ID))
	_, err = svc.GetPlace(ctx, "u1", place.ID)
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}

func TestWriteTripsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteTripsCSV(&buf, []Trip{
		{Date: "2024-01-03", Name: "Work, early", Type: "car", DistanceKm: 20.5, DurationMinutes: minutes(30), IsFavorite: true},
		{Date: "2024-01-04", Name: "Walk", Type: "walk", DistanceKm: 3},
	})
	require.NoError(t, err)
	want := "date,name,type,km,duration,favorite\n" +
		"2024-01-03,\"Work, early\",car,20.5,30,true\n" +
		"2024-01-04,Walk,walk,3,,false\n"
	assert.Equal(t, want, buf.String())
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()
	seedTrips(t, store, "u1",
		Trip{ID: "a", Type: "car", Name: "Work", Date: "2024-01-03", DistanceKm: 20, Waypoints: []Waypoint{wp(rome), wp(milan)}, CreatedAt: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), UpdatedAt: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
	)
	_, err := svc.SavePlace(ctx, "u1", "", PlaceInput{Name: "Office", Address: "Via Roma 1, Milano"})
	require.NoError(t, err)

	exported, err := svc.Export(ctx, "u1")
	require.NoError(t, err)
	raw, err := json.Marshal(exported)
	require.NoError(t, err)

	writes, err := svc.ImportWrites(ctx, "u2", raw)
	require.NoError(t, err)
	_, err = store.Batch(ctx, writes)
	require.NoError(t, err)

	reexported, err := svc.Export(ctx, "u2")
	require.NoError(t, err)
	if diff := cmp.Diff(exported, reexported, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestImportRejectsBadRecords(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	for name, body := range map[string]string{
		"malformed":      `{"trips": [`,
		"bad type":       `{"trips": [{"type": "boat"}]}`,
		"negative":       `{"trips": [{"type": "walk", "distance_km": -3}]}`,
		"bad coordinate": `{"places": [{"name": "x", "lat": 100, "lng": 0}]}`,
		"nameless track": `{"tracks": [{"waypoints": []}]}`,
	} {
		_, err := svc.ImportWrites(ctx, "u1", json.RawMessage(body))
		assert.Error(t, err, name)
	}
}

func TestPurgeStaleDrafts(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()

	d, err := svc.Open(ctx, "u1", OpenRequest{})
	require.NoError(t, err)

	n, err := PurgeStaleDrafts(ctx, store, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = PurgeStaleDrafts(ctx, store, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = svc.Draft(ctx, "u1", d.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}
