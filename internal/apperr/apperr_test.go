package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = New(ErrNotFound, "trip_not_found", "trip not found")

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"coded", errMissing, http.StatusNotFound, "trip_not_found"},
		{"wrapped coded", fmt.Errorf("load: %w", errMissing), http.StatusNotFound, "trip_not_found"},
		{"bare kind", fmt.Errorf("x: %w", ErrThrottled), http.StatusTooManyRequests, "too_many_requests"},
		{"upstream", New(ErrUpstream, "routing_failed", "no route"), http.StatusBadGateway, "routing_failed"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Status(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) { Respond(c, errors.New("password=hunter2")) })
	r.GET("/missing", func(c *gin.Context) { Respond(c, errMissing) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trip_not_found", body["error"])
	assert.Equal(t, "trip not found", body["message"])
}
