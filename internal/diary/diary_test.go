package diary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongestStreak(t *testing.T) {
	cases := []struct {
		name  string
		dates []string
		want  int
	}{
		{"empty", nil, 0},
		{"single", []string{"2024-03-10"}, 1},
		{"consecutive", []string{"2024-03-10", "2024-03-11", "2024-03-12"}, 3},
		{"gap", []string{"2024-03-10", "2024-03-12"}, 1},
		{"best run wins", []string{"2024-01-01", "2024-01-02", "2024-01-05", "2024-01-06", "2024-01-07", "2024-01-20"}, 3},
		{"across month end", []string{"2024-02-28", "2024-02-29", "2024-03-01"}, 3},
		{"across dst change", []string{"2024-03-30", "2024-03-31", "2024-04-01", "2024-10-26", "2024-10-27"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LongestStreak(tc.dates))
		})
	}
}

func TestLongestStreakIgnoresLocalZone(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	saved := time.Local
	time.Local = rome
	t.Cleanup(func() { time.Local = saved })

	assert.Equal(t, 3, LongestStreak([]string{"2024-03-30", "2024-03-31", "2024-04-01"}))
	assert.Equal(t, 3, LongestStreak([]string{"2024-10-26", "2024-10-27", "2024-10-28"}))
	assert.Equal(t, 3, LongestStreak([]string{"2024-05-01", "2024-05-02", "2024-05-03"}))
}

func TestAppendAndDelete(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	a := Activity{Location: "home", Protection: ProtectionNone, Climax: true}
	b := Activity{Location: "hotel", Protection: ProtectionCondom}

	_, err := svc.Append(ctx, "u1", "2024-03-10", a)
	require.NoError(t, err)
	day, err := svc.Append(ctx, "u1", "2024-03-10", b)
	require.NoError(t, err)
	assert.Equal(t, []Activity{a, b}, day)

	_, err = svc.Append(ctx, "u1", "10/03/2024", a)
	assert.Error(t, err)
	_, err = svc.Append(ctx, "u1", "2024-03-11", Activity{Protection: "maybe"})
	assert.Error(t, err)

	day, err = svc.DeleteEntry(ctx, "u1", "2024-03-10", 0)
	require.NoError(t, err)
	assert.Equal(t, []Activity{b}, day)

	day, err = svc.DeleteEntry(ctx, "u1", "2024-03-10", 0)
	require.NoError(t, err)
	assert.Empty(t, day)

	doc, err := store.Get(ctx, docstore.Main("u1", ModuleID))
	require.NoError(t, err)
	var raw map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc.Data, &raw))
	assert.NotContains(t, raw["entries"], "2024-03-10", "an emptied date key is removed")

	_, err = svc.DeleteEntry(ctx, "u1", "2024-03-10", 0)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMonthAndStats(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	add := func(date string, climax bool) {
		_, err := svc.Append(ctx, "u1", date, Activity{Protection: ProtectionPill, Climax: climax})
		require.NoError(t, err)
	}
	add("2024-03-01", true)
	add("2024-03-02", false)
	add("2024-03-02", true)
	add("2024-04-01", false)

	view, err := svc.Month(ctx, "u1", "2024-03")
	require.NoError(t, err)
	assert.Equal(t, []DaySummary{{"2024-03-01", 1}, {"2024-03-02", 2}}, view.Days)
	assert.Equal(t, 3, view.Total)

	_, err = svc.Month(ctx, "u1", "2024-13")
	assert.Error(t, err)

	stats, err := svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 4, FlaggedRate: 50, LongestStreak: 2}, stats)

	empty, err := svc.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, empty)
}

func TestImportAppends(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Append(ctx, "u1", "2024-03-01", Activity{Location: "a", Protection: ProtectionNone})
	require.NoError(t, err)

	file := `{"entries": {"2024-03-01": [{"location": "b", "protection": "other"}], "2024-03-05": [{"location": "c", "protection": "prep"}]}}`
	writes, err := svc.ImportWrites(ctx, "u1", json.RawMessage(file))
	require.NoError(t, err)
	_, err = store.Batch(ctx, writes)
	require.NoError(t, err)

	day, err := svc.Day(ctx, "u1", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "a", day[0].Location)
	assert.Equal(t, "b", day[1].Location)

	_, err = svc.ImportWrites(ctx, "u1", json.RawMessage(`{"entries": {"yesterday": []}}`))
	assert.Error(t, err)
	_, err = svc.ImportWrites(ctx, "u1", json.RawMessage(`{"entries": {"2024-01-01": [{"protection": "?"}]}}`))
	assert.Error(t, err)
}

func TestExportImportIntoEmptyStore(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	_, _ = svc.Append(ctx, "u1", "2024-03-01", Activity{Location: "a", Protection: ProtectionNone, Toys: true})
	_, _ = svc.Append(ctx, "u1", "2024-03-02", Activity{Location: "b", Protection: ProtectionPill})

	exported, err := svc.Export(ctx, "u1")
	require.NoError(t, err)
	raw, err := json.Marshal(exported)
	require.NoError(t, err)

	writes, err := svc.ImportWrites(ctx, "u2", raw)
	require.NoError(t, err)
	_, err = store.Batch(ctx, writes)
	require.NoError(t, err)

	again, err := svc.Export(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, exported, again)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(docstore.NewMemoryStore())
	r := gin.New()
	rg := r.Group("/api/diary", func(c *gin.Context) {
		auth.SetCurrentUser(c, &models.User{UID: "u1"})
	})
	RegisterRoutes(rg, svc)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/diary/entries/2024-03-01", `{"location":"x","protection":"none","climax":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(http.MethodGet, "/api/diary/entries?month=2024-03", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(http.MethodGet, "/api/diary/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":1,"flagged_rate":100,"longest_streak":1}`, w.Body.String())

	w = do(http.MethodDelete, "/api/diary/entries/2024-03-01/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodDelete, "/api/diary/entries/2024-03-01/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"date":"2024-03-01","entries":[]}`, w.Body.String())
}
