package logbook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service, store docstore.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/shared/trips/:uid/:tripId", SharedTripHandler(store))

	api := r.Group("/api/logbook", func(c *gin.Context) {
		auth.SetCurrentUser(c, &models.User{UID: "u1", AllowedModules: []string{ModuleID}})
	})
	RegisterRoutes(api, svc)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEditorOverHTTP(t *testing.T) {
	svc, router, store := newTestService()
	r := newTestRouter(svc, store)

	w := doJSON(r, http.MethodPost, "/api/logbook/editor", map[string]string{"mode": "car"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var draft Draft
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	base := "/api/logbook/editor/" + draft.ID

	w = doJSON(r, http.MethodPost, base+"/route", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, router.calls)

	for _, c := range []map[string]float64{{"lat": 41.9, "lng": 12.5}, {"lat": 45.46, "lng": 9.19}} {
		w = doJSON(r, http.MethodPost, base+"/waypoints", c)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, base+"/waypoints", map[string]float64{"lat": 120, "lng": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_coordinate")

	w = doJSON(r, http.MethodDelete, base+"/waypoints/9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPut, base+"/waypoints/0", map[string]float64{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a move needs both coordinates")
	w = doJSON(r, http.MethodPut, base+"/waypoints/0", map[string]float64{"lat": 41.8})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.Equal(t, 41.9, draft.Waypoints[0].Lat, "rejected moves leave the waypoint in place")

	w = doJSON(r, http.MethodPut, base+"/waypoints/0", map[string]float64{"lat": 41.8, "lng": 12.4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &draft))
	assert.Equal(t, 41.8, draft.Waypoints[0].Lat)

	w = doJSON(r, http.MethodPost, base+"/route", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, router.calls)

	w = doJSON(r, http.MethodPost, base+"/save", map[string]bool{"as_track": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res SaveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Trip)

	w = doJSON(r, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/api/logbook/trips?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "date,name,type,km,duration,favorite\n"))
}

func TestSharedTripOverHTTP(t *testing.T) {
	svc, _, store := newTestService()
	r := newTestRouter(svc, store)
	seedTrips(t, store, "u1", Trip{ID: "t1", Type: "walk", Name: "Private hike", Date: "2024-05-01"})

	w := doJSON(r, http.MethodGet, "/api/shared/trips/u1/t1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "Private hike")

	w = doJSON(r, http.MethodGet, "/api/shared/trips/u1/unknown", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodPut, "/api/logbook/trips/t1/public", map[string]bool{"is_public": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/shared/trips/u1/t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Private hike")
}

func TestRouteEndpointRejectsBadMode(t *testing.T) {
	svc, router, store := newTestService()
	r := newTestRouter(svc, store)

	w := doJSON(r, http.MethodPost, "/api/logbook/route", map[string]any{"mode": "boat", "waypoints": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, router.calls)
}
