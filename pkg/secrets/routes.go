package secrets

import (
	"net/http"

	"painterhub-platform/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Routes = fx.Module("secrets.routes",
	fx.Invoke(registerRoutes),
)

type setSecretRequest struct {
	Value string `json:"value" binding:"required"`
}

func registerRoutes(engine *gin.Engine, store *Store) {
	admin := engine.Group("/v1/admin", middleware.RequireActor(), middleware.RequireRole(middleware.RoleAdmin))

	admin.PUT("/config/:name", func(c *gin.Context) {
		var req setSecretRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "VALIDATION_FAILED", "message": "value is required"}})
			return
		}

		channel, err := store.Set(c.Request.Context(), c.Param("name"), req.Value)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "channel": channel})
	})
}
