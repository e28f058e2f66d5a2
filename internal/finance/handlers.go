package finance

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
)

// RegisterRoutes mounts the ledger API on rg.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.GET("", ViewHandler(svc))

	rg.POST("/vehicles", saveHandler(svc.SaveVehicle, http.StatusCreated))
	rg.PUT("/vehicles/:id", saveHandler(svc.SaveVehicle, http.StatusOK))
	rg.DELETE("/vehicles/:id", deleteHandler(svc.DeleteVehicle))

	rg.POST("/tolls", saveHandler(svc.SaveToll, http.StatusCreated))
	rg.PUT("/tolls/:id", saveHandler(svc.SaveToll, http.StatusOK))
	rg.DELETE("/tolls/:id", deleteHandler(svc.DeleteToll))

	rg.POST("/expenses", saveHandler(svc.SaveExpense, http.StatusCreated))
	rg.PUT("/expenses/:id", saveHandler(svc.SaveExpense, http.StatusOK))
	rg.DELETE("/expenses/:id", deleteHandler(svc.DeleteExpense))
}

// ViewHandler returns the ledger filtered by the query string.
func ViewHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tf TollFilter
		var ef ExpenseFilter
		if err := c.ShouldBindQuery(&tf); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		if err := c.ShouldBindQuery(&ef); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		view, err := svc.View(c.Request.Context(), auth.UID(c), tf, ef)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// saveHandler binds T and creates it, or replaces the record named by :id.
func saveHandler[T any](save func(ctx context.Context, uid, id string, in T) (*T, error), status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in T
		if err := c.ShouldBindJSON(&in); err != nil {
			apperr.BadRequest(c, err)
			return
		}
		out, err := save(c.Request.Context(), auth.UID(c), c.Param("id"), in)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(status, out)
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
