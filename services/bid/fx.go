package bid

import (
	"net/http"
	"time"

	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/middleware"
	"painterhub-platform/services/entitlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("bid.service",
	fx.Provide(
		NewService,
		func(s *entitlement.Service) Gate { return s },
	),
)

var Routes = fx.Module("bid.routes",
	fx.Invoke(registerRoutes),
)

type createJobRequest struct {
	Title          string `json:"title" binding:"required"`
	Description    string `json:"description"`
	Category       string `json:"category" binding:"required"`
	ScheduledAt    string `json:"scheduled_at" binding:"required"`
	ServiceAddress string `json:"service_address" binding:"required"`
	ServicePhone   string `json:"service_phone"`
}

type submitBidRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required"`
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	jobs := engine.Group("/v1/jobs", middleware.RequireActor())

	jobs.POST("", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req createJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid job payload", err))
			return
		}

		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			_ = c.Error(errutil.ValidationFailed("scheduled_at must be RFC3339", err))
			return
		}

		job, err := svc.CreateJob(c.Request.Context(), CreateJobParams{
			OwnerID:        actor.ID,
			Title:          req.Title,
			Description:    req.Description,
			Category:       req.Category,
			ScheduledAt:    scheduledAt,
			ServiceAddress: req.ServiceAddress,
			ServicePhone:   req.ServicePhone,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, job)
	})

	jobs.GET("/:jobID", func(c *gin.Context) {
		job, err := svc.GetJob(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, job)
	})

	jobs.POST("/:jobID/bids", middleware.RequireRole(middleware.RolePainter), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		var req submitBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid bid payload", err))
			return
		}

		bid, err := svc.SubmitBid(c.Request.Context(), c.Param("jobID"), actor.ID, req.AmountCents)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, bid)
	})

	jobs.GET("/:jobID/bids", func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		job, err := svc.GetJob(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			_ = c.Error(err)
			return
		}
		if job.OwnerID != actor.ID && actor.Role != middleware.RoleAdmin {
			_ = c.Error(ErrNotJobOwner)
			return
		}

		bids, err := svc.ListBids(c.Request.Context(), job.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"bids": bids})
	})

	jobs.POST("/:jobID/bids/:bidID/accept", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		b, err := svc.AcceptBid(c.Request.Context(), c.Param("jobID"), c.Param("bidID"), actor.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, b)
	})

	jobs.POST("/:jobID/bids/:bidID/reject", middleware.RequireRole(middleware.RoleCustomer), func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)

		bid, err := svc.RejectBid(c.Request.Context(), c.Param("jobID"), c.Param("bidID"), actor.ID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, bid)
	})
}
