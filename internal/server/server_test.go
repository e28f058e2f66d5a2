package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/changefeed"
	"github.com/nexus-dashboard/nexus/internal/config"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/models"
	"github.com/nexus-dashboard/nexus/internal/modules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := InitValidation(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type noGeo struct{}

func (noGeo) Route(context.Context, string, []geo.Coordinate) (*geo.Route, error) {
	return nil, geo.ErrRoutingFailed
}

func (noGeo) Geocode(context.Context, string) (*geo.Place, error) {
	return nil, geo.ErrAddressNotFound
}

type nopQueue struct{}

func (nopQueue) EnqueuePasswordReset(context.Context, string, string) error { return nil }
func (nopQueue) EnqueueAccountApproved(context.Context, string) error       { return nil }

type testServer struct {
	handler  http.Handler
	accounts *accounts.Service
	user     *models.User
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := modules.LoadBundled(logger)
	require.NoError(t, err)

	svc := accounts.NewService(accounts.NewMemoryRepository(), registry.DefaultEnabled(), time.Hour)
	hub := changefeed.NewHub()
	cfg := &config.Config{Env: "test", SessionSecret: "test-session-secret", AccessTokenTTL: time.Hour, BaseURL: "http://localhost"}

	s := &testServer{accounts: svc}
	s.handler = New(Deps{
		Config:   cfg,
		Logger:   logger,
		Accounts: svc,
		Tokens:   auth.NewTokenIssuer("test-jwt-secret", "nexus-test", time.Hour),
		Throttle: auth.NewLoginThrottle(auth.NewMemoryCounter(), 5, time.Minute),
		Store:    docstore.WithPublisher(docstore.NewMemoryStore(), hub),
		Feed:     hub,
		Registry: registry,
		Queue:    nopQueue{},
		Router:   noGeo{},
		Geocoder: noGeo{},
	})

	s.user, err = svc.CreateUser(context.Background(), accounts.NewUser{Email: "ada@example.com", Password: "secret123"})
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	s.token = login.Token
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) authed(method, path, body string, extra ...string) *httptest.ResponseRecorder {
	headers := map[string]string{"Authorization": "Bearer " + s.token}
	for i := 0; i+1 < len(extra); i += 2 {
		headers[extra[i]] = extra[i+1]
	}
	return s.do(method, path, body, headers)
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/shared/university/"+s.user.UID, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModuleGate(t *testing.T) {
	s := newTestServer(t)

	w := s.authed(http.MethodGet, "/api/modules", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Modules []modules.Manifest `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Modules, 2)
	assert.Equal(t, "diary", body.Modules[0].ID)
	assert.Equal(t, "university", body.Modules[1].ID)

	w = s.authed(http.MethodPost, "/api/diary/entries/2024-03-01", `{"location":"home","protection":"pill","climax":true}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.authed(http.MethodPost, "/api/diary/entries/2024-03-01", `{"location":"home","protection":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodGet, "/api/logbook/trips", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "module_not_allowed")

	w = s.authed(http.MethodGet, "/api/modules/finance/export", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.authed(http.MethodGet, "/api/modules/diary/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"2024-03-01"`)

	w = s.authed(http.MethodGet, "/api/admin/users", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDocumentAPI(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/docs/users/%s/university/main", s.user.UID)

	w := s.authed(http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.authed(http.MethodPut, path, `{"subjects":[],"is_public":false}`, "If-Match", "0")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))

	w = s.authed(http.MethodPut, path, `{"subjects":[]}`, "If-Match", "0")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.authed(http.MethodPatch, path, `{"is_public":true}`, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var doc docstore.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, int64(2), doc.Version)
	assert.JSONEq(t, `{"subjects":[],"is_public":true}`, string(doc.Data))

	w = s.authed(http.MethodPatch, path, `{"is_public":false}`, "If-Match", "abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodGet, "/api/docs/users/someone-else/university/main", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.authed(http.MethodGet, fmt.Sprintf("/api/docs/users/%s/finance/main", s.user.UID), "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.authed(http.MethodGet, "/api/docs/not/a/path", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodDelete, path, "", "If-Match", "1")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.authed(http.MethodDelete, path, "", "If-Match", "2")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func (s *testServer) grant(t *testing.T, moduleIDs ...string) {
	t.Helper()
	_, err := s.accounts.UpdateUser(context.Background(), s.user.ID, accounts.UserUpdate{AllowedModules: &moduleIDs})
	require.NoError(t, err)
}

func TestGeoSearchFailure(t *testing.T) {
	s := newTestServer(t)

	w := s.authed(http.MethodGet, "/api/geo/search?q=nowhere", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "module_not_allowed")

	s.grant(t, "diary", "university", "logbook")
	w = s.authed(http.MethodGet, "/api/geo/search?q=nowhere", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = s.authed(http.MethodGet, "/api/geo/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentAPIEnforcesModuleRules(t *testing.T) {
	s := newTestServer(t)
	s.grant(t, "diary", "logbook", "finance")
	diaryPath := fmt.Sprintf("/api/docs/users/%s/diary/main", s.user.UID)
	tripPath := fmt.Sprintf("/api/docs/users/%s/logbook/trips/items/x", s.user.UID)

	w := s.authed(http.MethodPut, diaryPath, `{"entries":{"2024-01-01":[]}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_document")
	w = s.authed(http.MethodGet, diaryPath, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.authed(http.MethodPut, diaryPath, `{"entries":{"2024-01-01":[{"location":"home","protection":"none"}]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.authed(http.MethodPatch, diaryPath, `{"entries":{"2024-01-02":[]}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.authed(http.MethodPatch, diaryPath, `{"mood":"great"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodPut, tripPath, `{"type":"car","distance_km":-5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "distance must not be negative")

	w = s.authed(http.MethodPut, tripPath, `{"type":"car","name":"Commute","date":"2024-01-01","distance_km":12.5,"waypoints":[]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.authed(http.MethodPatch, tripPath, `{"distance_km":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodPut, fmt.Sprintf("/api/docs/users/%s/logbook/drafts/items/d1", s.user.UID), `{"mode":"car"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.authed(http.MethodPut, fmt.Sprintf("/api/docs/users/%s/finance/main", s.user.UID), `{"vehicles":[{"id":"v1","model":"Panda","plate":""}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
