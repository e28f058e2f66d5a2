package modules

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/auth"
)

// ListHandler returns the caller's allowed modules as navigable cards.
func ListHandler(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := auth.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusOK, gin.H{"modules": []*Manifest{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"modules": registry.Allowed(user.AllowedModules)})
	}
}
