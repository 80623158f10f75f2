package payment

import (
	"net/http"

	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewService, NewWebhookHandler),
)

var Routes = fx.Module("payment.routes",
	fx.Invoke(registerRoutes),
)

type intentRequest struct {
	Email string `json:"email"`
}

type refundRequest struct {
	Kind Kind `json:"kind" binding:"required"`
}

func registerRoutes(engine *gin.Engine, svc *Service, webhook *WebhookHandler) {
	// The provider authenticates via signature, not actor headers.
	engine.POST("/v1/webhooks/provider", webhook.Handle)

	group := engine.Group("/v1/bookings/:bookingID/payments", middleware.RequireActor())

	group.POST("/deposit", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req intentRequest
		_ = c.ShouldBindJSON(&req)

		p, err := svc.CreateDepositIntent(c.Request.Context(), c.Param("bookingID"), actor.ID, req.Email)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, p)
	})

	group.POST("/final", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req intentRequest
		_ = c.ShouldBindJSON(&req)

		p, err := svc.CreateFinalIntent(c.Request.Context(), c.Param("bookingID"), actor.ID, req.Email)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, p)
	})

	group.GET("", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		b, err := svc.loadBooking(c.Request.Context(), c.Param("bookingID"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		if actor.ID != b.CustomerID && actor.ID != b.ProviderID && actor.Role != middleware.RoleAdmin {
			_ = c.Error(errutil.Forbidden("caller is not a party to this booking", nil))
			return
		}

		payments, err := svc.ListByBooking(c.Request.Context(), b.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": payments})
	})

	engine.POST("/v1/bookings/:bookingID/refunds", middleware.RequireActor(), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req refundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid refund payload", err))
			return
		}

		b, err := svc.loadBooking(c.Request.Context(), c.Param("bookingID"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		if actor.ID != b.CustomerID && actor.Role != middleware.RoleAdmin {
			_ = c.Error(errutil.Forbidden("only the booking customer or an admin may refund", nil))
			return
		}

		p, err := svc.Refund(c.Request.Context(), b.ID, req.Kind)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, p)
	})
}
