package booking

import (
	"net/http"
	"time"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/db/pagination"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("booking.routes",
	fx.Invoke(registerRoutes),
)

type createBookingRequest struct {
	ProviderID       string `json:"provider_id" binding:"required"`
	Category         string `json:"category" binding:"required"`
	ScheduledAt      string `json:"scheduled_at" binding:"required"`
	ServiceAddress   string `json:"service_address" binding:"required"`
	ServicePhone     string `json:"service_phone"`
	TotalAmountCents int64  `json:"total_amount_cents" binding:"required"`
}

func registerRoutes(engine *gin.Engine, svc *Service, policy billing.Policy) {
	group := engine.Group("/v1/bookings", middleware.RequireActor())

	group.POST("", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)
		if actor.Role != middleware.RoleCustomer {
			_ = c.Error(errutil.Forbidden("only customers may create bookings", nil))
			return
		}

		var req createBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.ValidationFailed("invalid booking request", err))
			return
		}

		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			_ = c.Error(errutil.ValidationFailed("scheduled_at must be RFC3339", err))
			return
		}

		b, err := svc.Create(c.Request.Context(), CreateParams{
			CustomerID:         actor.ID,
			ProviderID:         req.ProviderID,
			Category:           req.Category,
			ScheduledAt:        scheduledAt,
			ServiceAddress:     req.ServiceAddress,
			ServicePhone:       req.ServicePhone,
			TotalAmountCents:   req.TotalAmountCents,
			DepositAmountCents: policy.DepositCents(req.TotalAmountCents),
		})
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, b)
	})

	group.GET("", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var page pagination.Pagination
		if err := c.ShouldBindQuery(&page); err != nil {
			_ = c.Error(errutil.BadRequest("invalid pagination query", err))
			return
		}

		bookings, info, err := svc.ListForActor(c.Request.Context(), actor.ID, page)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"bookings": bookings, "page_info": info})
	})

	group.GET("/:bookingID", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		b, err := svc.Get(c.Request.Context(), c.Param("bookingID"))
		if err != nil {
			_ = c.Error(err)
			return
		}

		if actor.ID != b.CustomerID && actor.ID != b.ProviderID && actor.Role != middleware.RoleAdmin {
			_ = c.Error(ErrNotParticipant)
			return
		}

		c.JSON(http.StatusOK, b)
	})

	group.POST("/:bookingID/cancel", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		b, err := svc.Cancel(c.Request.Context(), c.Param("bookingID"), actor.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, b)
	})
}
