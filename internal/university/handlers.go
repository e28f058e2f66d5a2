package university

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
)

// RegisterRoutes mounts the tracker API on rg.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.GET("", ViewHandler(svc))
	rg.PUT("/public", SetPublicHandler(svc))

	rg.POST("/subjects", AddSubjectHandler(svc))
	rg.PUT("/subjects/:id", UpdateSubjectHandler(svc))
	rg.DELETE("/subjects/:id", deleteHandler(svc.DeleteSubject))

	rg.POST("/schedule", AddClassHandler(svc))
	rg.DELETE("/schedule", ClearScheduleHandler(svc))
	rg.DELETE("/schedule/:id", deleteHandler(svc.DeleteClass))

	rg.POST("/exams", AddExamHandler(svc))
	rg.DELETE("/exams/:id", deleteHandler(svc.DeleteExam))

	rg.POST("/deadlines", AddDeadlineHandler(svc))
	rg.DELETE("/deadlines/:id", deleteHandler(svc.DeleteDeadline))
}

// ViewHandler returns the resolved tracker view with stats.
func ViewHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := svc.View(c.Request.Context(), auth.UID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// SetPublicHandler toggles the share link.
func SetPublicHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IsPublic bool `json:"is_public"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if err := svc.SetPublic(c.Request.Context(), auth.UID(c), req.IsPublic); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"is_public": req.IsPublic})
	}
}

// AddSubjectHandler adds a subject.
func AddSubjectHandler(svc *Service) gin.HandlerFunc {
	return createHandler(svc.AddSubject)
}

// UpdateSubjectHandler edits a subject.
func UpdateSubjectHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in SubjectInput
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		sub, err := svc.UpdateSubject(c.Request.Context(), auth.UID(c), c.Param("id"), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// AddClassHandler schedules a class.
func AddClassHandler(svc *Service) gin.HandlerFunc {
	return createHandler(svc.AddClass)
}

// ClearScheduleHandler empties the schedule.
func ClearScheduleHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.ClearSchedule(c.Request.Context(), auth.UID(c)); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// AddExamHandler records an exam.
func AddExamHandler(svc *Service) gin.HandlerFunc {
	return createHandler(svc.AddExam)
}

// AddDeadlineHandler adds a deadline.
func AddDeadlineHandler(svc *Service) gin.HandlerFunc {
	return createHandler(svc.AddDeadline)
}

// SharedHandler serves the public view without authentication.
func SharedHandler(store docstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := Shared(c.Request.Context(), store, c.Param("uid"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func createHandler[In, Out any](create func(ctx context.Context, uid string, in In) (*Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in In
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		out, err := create(c.Request.Context(), auth.UID(c), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func deleteHandler(del func(ctx context.Context, uid, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := del(c.Request.Context(), auth.UID(c), c.Param("id")); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
