package diary

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
)

// RegisterRoutes mounts the diary API on rg.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.GET("/entries", MonthHandler(svc))
	rg.GET("/entries/:date", DayHandler(svc))
	rg.POST("/entries/:date", AppendHandler(svc))
	rg.DELETE("/entries/:date/:index", DeleteEntryHandler(svc))
	rg.GET("/stats", StatsHandler(svc))
}

// MonthHandler returns the month grid; ?month=YYYY-MM defaults to the current month.
func MonthHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		month := c.DefaultQuery("month", time.Now().Format("2006-01"))
		view, err := svc.Month(c.Request.Context(), auth.UID(c), month)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// DayHandler returns one day's entries.
func DayHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		date := c.Param("date")
		entries, err := svc.Day(c.Request.Context(), auth.UID(c), date)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "entries": entries})
	}
}

// AppendHandler records a new entry.
func AppendHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var a Activity
		if err := c.ShouldBindJSON(&a); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		date := c.Param("date")
		entries, err := svc.Append(c.Request.Context(), auth.UID(c), date, a)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"date": date, "entries": entries})
	}
}

// DeleteEntryHandler removes one entry by index.
func DeleteEntryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			apperr.Respond(c, ErrEntryNotFound)
			return
		}
		date := c.Param("date")
		entries, err := svc.DeleteEntry(c.Request.Context(), auth.UID(c), date, index)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "entries": entries})
	}
}

// StatsHandler returns the aggregates.
func StatsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Stats(c.Request.Context(), auth.UID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
