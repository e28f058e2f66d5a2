package logbook

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
)

// RegisterRoutes mounts the logbook API on rg. The group must already
// require authentication and the logbook module.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.POST("/route", RouteHandler(svc))

	editor := rg.Group("/editor")
	editor.POST("", OpenDraftHandler(svc))
	editor.GET("/:id", GetDraftHandler(svc))
	editor.DELETE("/:id", CloseDraftHandler(svc))
	editor.POST("/:id/waypoints", AddWaypointHandler(svc))
	editor.PUT("/:id/waypoints/:index", MoveWaypointHandler(svc))
	editor.DELETE("/:id/waypoints/:index", RemoveWaypointHandler(svc))
	editor.POST("/:id/reset", ResetDraftHandler(svc))
	editor.PUT("/:id/mode", SetModeHandler(svc))
	editor.PUT("/:id/fields", UpdateFieldsHandler(svc))
	editor.POST("/:id/template", LoadTemplateHandler(svc))
	editor.POST("/:id/route", ComputeRouteHandler(svc))
	editor.POST("/:id/save", SaveDraftHandler(svc))

	rg.GET("/trips", ListTripsHandler(svc))
	rg.GET("/trips/records", RecordsHandler(svc))
	rg.GET("/trips/:id", GetTripHandler(svc))
	rg.DELETE("/trips/:id", DeleteTripHandler(svc))
	rg.POST("/trips/:id/favorite", ToggleFavoriteHandler(svc))
	rg.PUT("/trips/:id/public", SetPublicHandler(svc))

	rg.GET("/tracks", ListTracksHandler(svc))
	rg.GET("/tracks/:id", GetTrackHandler(svc))
	rg.DELETE("/tracks/:id", DeleteTrackHandler(svc))

	rg.GET("/places", ListPlacesHandler(svc))
	rg.POST("/places", SavePlaceHandler(svc))
	rg.PUT("/places/:id", SavePlaceHandler(svc))
	rg.DELETE("/places/:id", DeletePlaceHandler(svc))
}

// OpenDraftHandler acquires an editor session.
func OpenDraftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apperr.BadRequest(c, err)
				return
			}
		}
		draft, err := svc.Open(c.Request.Context(), auth.UID(c), req)
		respond(c, http.StatusCreated, draft, err)
	}
}

// GetDraftHandler returns an editor session's state.
func GetDraftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		draft, err := svc.Draft(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, draft, err)
	}
}

// CloseDraftHandler releases an editor session.
func CloseDraftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Close(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type waypointRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Name    string   `json:"name" validate:"max=200"`
	PlaceID string   `json:"place_id" validate:"max=128"`
}

// AddWaypointHandler appends a coordinate or a saved place.
func AddWaypointHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req waypointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		ctx, uid, id := c.Request.Context(), auth.UID(c), c.Param("id")

		var draft *Draft
		var err error
		switch {
		case req.PlaceID != "":
			draft, err = svc.AddPlace(ctx, uid, id, req.PlaceID)
		case req.Lat != nil && req.Lng != nil:
			wp := Waypoint{Coordinate: geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}, Name: req.Name}
			draft, err = svc.AddWaypoint(ctx, uid, id, wp)
		default:
			err = geo.ErrInvalidCoordinate
		}
		respond(c, http.StatusOK, draft, err)
	}
}

type moveRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lng *float64 `json:"lng" validate:"required"`
}

// MoveWaypointHandler drags a waypoint to a new coordinate.
func MoveWaypointHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := indexParam(c)
		if !ok {
			return
		}
		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if req.Lat == nil || req.Lng == nil {
			apperr.Respond(c, geo.ErrInvalidCoordinate)
			return
		}
		to := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		draft, err := svc.MoveWaypoint(c.Request.Context(), auth.UID(c), c.Param("id"), index, to)
		respond(c, http.StatusOK, draft, err)
	}
}

// RemoveWaypointHandler removes a waypoint by index.
func RemoveWaypointHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := indexParam(c)
		if !ok {
			return
		}
		draft, err := svc.RemoveWaypoint(c.Request.Context(), auth.UID(c), c.Param("id"), index)
		respond(c, http.StatusOK, draft, err)
	}
}

// ResetDraftHandler clears waypoints and route.
func ResetDraftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		draft, err := svc.Reset(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, draft, err)
	}
}

// SetModeHandler switches the draft's travel mode.
func SetModeHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Mode string `json:"mode" validate:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		draft, err := svc.SetMode(c.Request.Context(), auth.UID(c), c.Param("id"), req.Mode)
		respond(c, http.StatusOK, draft, err)
	}
}

// UpdateFieldsHandler replaces the trip form fields of a draft.
func UpdateFieldsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields TripFields
		if err := c.ShouldBindJSON(&fields); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		draft, err := svc.UpdateFields(c.Request.Context(), auth.UID(c), c.Param("id"), fields)
		respond(c, http.StatusOK, draft, err)
	}
}

// LoadTemplateHandler seeds a draft from a track.
func LoadTemplateHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TrackID string `json:"track_id" validate:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		draft, err := svc.LoadTemplate(c.Request.Context(), auth.UID(c), c.Param("id"), req.TrackID)
		respond(c, http.StatusOK, draft, err)
	}
}

// ComputeRouteHandler resolves the draft's route.
func ComputeRouteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		draft, err := svc.ComputeRoute(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, draft, err)
	}
}

// SaveDraftHandler writes the draft as a trip or track and releases it.
func SaveDraftHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AsTrack bool `json:"as_track"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apperr.BadRequest(c, err)
				return
			}
		}
		result, err := svc.Save(c.Request.Context(), auth.UID(c), c.Param("id"), req.AsTrack)
		respond(c, http.StatusOK, result, err)
	}
}

type routeRequest struct {
	Mode      string           `json:"mode" validate:"required"`
	Waypoints []geo.Coordinate `json:"waypoints"`
}

// RouteHandler proxies a stateless route computation.
func RouteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req routeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		result, err := svc.Route(c.Request.Context(), req.Mode, req.Waypoints)
		respond(c, http.StatusOK, result, err)
	}
}

// ListTripsHandler lists trips; ?format=csv downloads them as CSV.
func ListTripsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter TripFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		trips, err := svc.ListTrips(c.Request.Context(), auth.UID(c), filter)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		if c.Query("format") == "csv" {
			var buf bytes.Buffer
			if err := WriteTripsCSV(&buf, trips); err != nil {
				apperr.Respond(c, err)
				return
			}
			c.Header("Content-Disposition", `attachment; filename="logbook_trips.csv"`)
			c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
			return
		}
		c.JSON(http.StatusOK, gin.H{"trips": trips})
	}
}

// RecordsHandler returns the fastest-car and longest-walk leaderboards.
func RecordsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := svc.TripRecords(c.Request.Context(), auth.UID(c))
		respond(c, http.StatusOK, records, err)
	}
}

// GetTripHandler returns one trip.
func GetTripHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		trip, err := svc.GetTrip(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, trip, err)
	}
}

// DeleteTripHandler removes a trip.
func DeleteTripHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteTrip(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ToggleFavoriteHandler flips a trip's favourite flag.
func ToggleFavoriteHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		trip, err := svc.ToggleFavorite(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, trip, err)
	}
}

// SetPublicHandler toggles share-link visibility.
func SetPublicHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IsPublic *bool `json:"is_public" validate:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if req.IsPublic == nil {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "invalid_input", "is_public is required"))
			return
		}
		trip, err := svc.SetPublic(c.Request.Context(), auth.UID(c), c.Param("id"), *req.IsPublic)
		respond(c, http.StatusOK, trip, err)
	}
}

// ListTracksHandler lists track templates.
func ListTracksHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracks, err := svc.ListTracks(c.Request.Context(), auth.UID(c))
		respond(c, http.StatusOK, gin.H{"tracks": tracks}, err)
	}
}

// GetTrackHandler returns one track.
func GetTrackHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		track, err := svc.GetTrack(c.Request.Context(), auth.UID(c), c.Param("id"))
		respond(c, http.StatusOK, track, err)
	}
}

// DeleteTrackHandler removes a track.
func DeleteTrackHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteTrack(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListPlacesHandler lists saved places.
func ListPlacesHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		places, err := svc.ListPlaces(c.Request.Context(), auth.UID(c))
		respond(c, http.StatusOK, gin.H{"places": places}, err)
	}
}

// SavePlaceHandler creates (POST) or updates (PUT /:id) a saved place.
func SavePlaceHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in PlaceInput
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		status := http.StatusOK
		if c.Param("id") == "" {
			status = http.StatusCreated
		}
		place, err := svc.SavePlace(c.Request.Context(), auth.UID(c), c.Param("id"), in)
		respond(c, status, place, err)
	}
}

// DeletePlaceHandler removes a saved place.
func DeletePlaceHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeletePlace(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// SearchHandler geocodes ?q= to its first match.
func SearchHandler(geocoder geo.Geocoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Query("q")
		if q == "" {
			apperr.Respond(c, apperr.New(apperr.ErrInvalidInput, "invalid_input", "q is required"))
			return
		}
		place, err := geocoder.Geocode(c.Request.Context(), q)
		respond(c, http.StatusOK, place, err)
	}
}

// SharedTripHandler serves a trip's public share link without
// authentication. Private and missing trips both answer 403.
func SharedTripHandler(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		trip, err := SharedTrip(c.Request.Context(), store, c.Param("uid"), c.Param("tripId"))
		respond(c, http.StatusOK, trip, err)
	}
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		apperr.Respond(c, ErrWaypointIndex)
		return 0, false
	}
	return index, true
}

func respond(c *gin.Context, status int, body any, err error) {
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(status, body)
}
