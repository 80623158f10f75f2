package entitlement

import (
	"net/http"

	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("entitlement.routes",
	fx.Invoke(registerRoutes),
)

type subscribeRequest struct {
	Email string `json:"email" binding:"required"`
	Plan  string `json:"plan" binding:"required"`
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	group := engine.Group("/v1/entitlements", middleware.RequireActor())

	group.GET("/:actorID", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)
		target := c.Param("actorID")

		if actor.ID != target && actor.Role != middleware.RoleAdmin {
			_ = c.Error(errutil.Forbidden("may only inspect your own entitlement", nil))
			return
		}

		c.JSON(http.StatusOK, svc.Check(c.Request.Context(), target))
	})

	group.POST("/subscribe", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.ValidationFailed("email and plan are required", err))
			return
		}

		e, err := svc.Subscribe(c.Request.Context(), actor.ID, req.Email, req.Plan)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, e)
	})

	group.POST("/cancel", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		e, err := svc.Cancel(c.Request.Context(), actor.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, e)
	})
}
