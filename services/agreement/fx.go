package agreement

import (
	"net/http"

	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("agreement.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("agreement.routes",
	fx.Invoke(registerRoutes),
)

type signRequest struct {
	SignatureName string `json:"signature_name"`
	Accepted      bool   `json:"accepted"`
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	group := engine.Group("/v1/bookings/:bookingID/agreement", middleware.RequireActor())

	group.GET("", func(c *gin.Context) {
		a, err := svc.Get(c.Request.Context(), c.Param("bookingID"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, a)
	})

	group.GET("/preview", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		text, err := svc.Preview(c.Request.Context(), c.Param("bookingID"), actor.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": text})
	})

	group.POST("/sign", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req signRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid sign payload", err))
			return
		}

		a, err := svc.Sign(c.Request.Context(), SignParams{
			BookingID:     c.Param("bookingID"),
			ActorID:       actor.ID,
			SignatureName: req.SignatureName,
			Accepted:      req.Accepted,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, a)
	})
}
