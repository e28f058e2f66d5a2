package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/diary"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/finance"
	"github.com/nexus-dashboard/nexus/internal/models"
	"github.com/nexus-dashboard/nexus/internal/modules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) Put(_ context.Context, key string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://archive.test/" + key, nil
}

type env struct {
	store   *docstore.MemoryStore
	diary   *diary.Service
	finance *finance.Service
	svc     *Service
	router  *gin.Engine
	uid     string
}

func newEnv(t *testing.T, archiver Archiver) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := modules.LoadBundled(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	e := &env{store: docstore.NewMemoryStore(), uid: "u1"}
	e.diary = diary.NewService(e.store)
	e.finance = finance.NewService(e.store)
	e.svc = NewService(registry, e.store, map[string]Module{
		diary.ModuleID:   e.diary,
		finance.ModuleID: e.finance,
	}, archiver)
	e.svc.now = func() time.Time { return time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC) }

	e.router = gin.New()
	rg := e.router.Group("/api/modules/:id", func(c *gin.Context) {
		auth.SetCurrentUser(c, &models.User{UID: e.uid})
	})
	rg.GET("/export", ExportHandler(e.svc))
	rg.POST("/import", ImportHandler(e.svc))
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "finance_backup_20241231-235959.json",
		Filename("finance", time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)))
}

func TestExportThenImport(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.diary.Append(ctx, "u1", "2024-02-29", diary.Activity{Location: "home", Protection: diary.ProtectionNone, Climax: true})
	require.NoError(t, err)

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/modules/diary/export", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `attachment; filename="diary_backup_20240301-101500.json"`, w.Header().Get("Content-Disposition"))
	backup := w.Body.Bytes()

	e.uid = "u2"
	req := httptest.NewRequest(http.MethodPost, "/api/modules/diary/import", bytes.NewReader(backup))
	req.Header.Set("Content-Type", "application/json")
	w = e.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	day, err := e.diary.Day(ctx, "u2", "2024-02-29")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "home", day[0].Location)
}

func TestImportMultipart(t *testing.T) {
	e := newEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "finance_backup.json")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(`{"vehicles":[{"id":"v1","model":"Panda","plate":"AB123CD"}],"expenses":[{"type":"fuel","cost":50,"date":"2024-01-02","vehicle_id":"v1"}]}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/modules/finance/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	view, err := e.finance.View(context.Background(), "u1", finance.TollFilter{}, finance.ExpenseFilter{})
	require.NoError(t, err)
	require.Len(t, view.Vehicles, 1)
	require.Len(t, view.Expenses, 1)
	assert.Equal(t, view.Vehicles[0].ID, view.Expenses[0].VehicleID)
}

func TestInvalidImportWritesNothing(t *testing.T) {
	e := newEnv(t, nil)

	for name, body := range map[string]string{
		"empty":        ``,
		"not json":     `{"entries":`,
		"schema":       `{"entries":{"2024-01-01":[{"protection":"maybe"}]}}`,
		"bad date key": `{"entries":{"2024-13-45":[{"protection":"none"}]}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/modules/diary/import", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := e.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.Contains(t, w.Body.String(), `"invalid_import"`, name)
	}

	_, err := e.store.Get(context.Background(), docstore.Main("u1", diary.ModuleID))
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestUnknownModules(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/modules/chess/export", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/modules/logbook/export", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "registered but not wired")
}

func TestArchive(t *testing.T) {
	w := newEnv(t, nil).do(httptest.NewRequest(http.MethodGet, "/api/modules/finance/export?archive=true", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	archiver := &fakeArchiver{}
	e := newEnv(t, archiver)
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/modules/finance/export?archive=true", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "finance_backup_20240301-101500.json", body.Filename)
	assert.Equal(t, []string{"exports/u1/finance_backup_20240301-101500.json"}, archiver.keys)
	assert.Equal(t, "https://archive.test/exports/u1/finance_backup_20240301-101500.json", body.URL)
}
