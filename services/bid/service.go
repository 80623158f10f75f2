package bid

import (
	"context"
	"errors"
	"strings"
	"time"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/entitlement"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound         = errutil.NotFound("job not found", nil)
	ErrBidNotFound         = errutil.NotFound("bid not found", nil)
	ErrJobClosed           = errutil.Conflict("job is no longer accepting bids", nil)
	ErrDuplicateBid        = errutil.Conflict("bidder already has a bid on this job", nil)
	ErrInvalidAmount       = errutil.ValidationFailed("bid amount must be positive", nil)
	ErrEntitlementRequired = errutil.Forbidden("an active subscription is required to bid", nil)
	ErrNotJobOwner         = errutil.Forbidden("caller does not own this job", nil)
	ErrAlreadyAssigned     = errutil.Conflict("job has already been assigned", nil)
	ErrBidNotPending       = errutil.Conflict("bid has already been decided", nil)
	ErrOwnJobBid           = errutil.ValidationFailed("job owner cannot bid on their own job", nil)
)

// Gate answers whether an actor may submit bids. Satisfied by the
// entitlement service; tests swap in a stub.
type Gate interface {
	Check(ctx context.Context, actorID string) entitlement.Decision
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	gate     Gate
	bookings *booking.Service
	policy   billing.Policy
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Gate     Gate
	Bookings *booking.Service
	Policy   billing.Policy
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		gate:     p.Gate,
		bookings: p.Bookings,
		policy:   p.Policy,
	}
}

type CreateJobParams struct {
	OwnerID        string
	Title          string
	Description    string
	Category       string
	ScheduledAt    time.Time
	ServiceAddress string
	ServicePhone   string
}

func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (*Job, error) {
	if p.OwnerID == "" || strings.TrimSpace(p.Title) == "" {
		return nil, errutil.ValidationFailed("owner and title are required", nil)
	}

	job := &Job{
		ID:             s.node.Generate().String(),
		OwnerID:        p.OwnerID,
		Title:          p.Title,
		Description:    p.Description,
		Category:       p.Category,
		ScheduledAt:    p.ScheduledAt,
		ServiceAddress: p.ServiceAddress,
		ServicePhone:   p.ServicePhone,
		Status:         JobStatusOpen,
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, errutil.Internal("failed to create job", err)
	}

	zap.L().Info("job posted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("category", job.Category),
	)

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errutil.Internal("failed to load job", err)
	}
	return &job, nil
}

// SubmitBid records a pending bid after the entitlement gate clears the
// bidder. The (job, bidder) unique index backstops the duplicate check
// under concurrency.
func (s *Service) SubmitBid(ctx context.Context, jobID, bidderID string, amountCents int64) (*Bid, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	decision := s.gate.Check(ctx, bidderID)
	if !decision.Entitled {
		return nil, ErrEntitlementRequired
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusOpen {
		return nil, ErrJobClosed
	}
	if job.OwnerID == bidderID {
		return nil, ErrOwnJobBid
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Bid{}).
		Where("job_id = ? AND bidder_id = ?", jobID, bidderID).
		Count(&existing).Error; err != nil {
		return nil, errutil.Internal("failed to check existing bids", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateBid
	}

	b := &Bid{
		ID:          s.node.Generate().String(),
		JobID:       jobID,
		BidderID:    bidderID,
		AmountCents: amountCents,
		Status:      BidStatusPending,
	}

	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBid
		}
		return nil, errutil.Internal("failed to create bid", err)
	}

	zap.L().Info("bid submitted",
		zap.String("bid_id", b.ID),
		zap.String("job_id", jobID),
		zap.String("bidder_id", bidderID),
		zap.Int64("amount_cents", amountCents),
	)

	return b, nil
}

func (s *Service) ListBids(ctx context.Context, jobID string) ([]*Bid, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	var bids []*Bid
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&bids).Error; err != nil {
		return nil, errutil.Internal("failed to list bids", err)
	}
	return bids, nil
}

// AcceptBid is the arbitration step: exactly one bid wins. The conditional
// update on job status is the linearization point; a second concurrent
// accept sees zero rows affected and loses. The winning path then marks the
// bid, rejects the rest, and creates the booking in the same transaction.
func (s *Service) AcceptBid(ctx context.Context, jobID, bidID, actorID string) (*booking.Booking, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != actorID {
		return nil, ErrNotJobOwner
	}

	var bid Bid
	err = s.db.WithContext(ctx).First(&bid, "id = ? AND job_id = ?", bidID, jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, errutil.Internal("failed to load bid", err)
	}
	if bid.Status != BidStatusPending {
		return nil, ErrBidNotPending
	}

	var created *booking.Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", jobID, JobStatusOpen).
			Update("status", JobStatusAssigned)
		if res.Error != nil {
			return errutil.Internal("failed to assign job", res.Error)
		}
		if res.RowsAffected == 0 {
			var current Job
			if err := tx.First(&current, "id = ?", jobID).Error; err != nil {
				return errutil.Internal("failed to reload job", err)
			}
			if current.Status == JobStatusCancelled {
				return ErrJobClosed
			}
			return ErrAlreadyAssigned
		}

		res = tx.Model(&Bid{}).
			Where("id = ? AND status = ?", bidID, BidStatusPending).
			Update("status", BidStatusAccepted)
		if res.Error != nil {
			return errutil.Internal("failed to accept bid", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrBidNotPending
		}

		if err := tx.Model(&Bid{}).
			Where("job_id = ? AND id <> ? AND status = ?", jobID, bidID, BidStatusPending).
			Update("status", BidStatusRejected).Error; err != nil {
			return errutil.Internal("failed to reject losing bids", err)
		}

		b, err := s.bookings.WithTx(tx).Create(ctx, booking.CreateParams{
			CustomerID:         job.OwnerID,
			ProviderID:         bid.BidderID,
			Category:           job.Category,
			ScheduledAt:        job.ScheduledAt,
			ServiceAddress:     job.ServiceAddress,
			ServicePhone:       job.ServicePhone,
			TotalAmountCents:   bid.AmountCents,
			DepositAmountCents: s.policy.DepositCents(bid.AmountCents),
		})
		if err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("accept bid transaction failed", err)
	}

	zap.L().Info("bid accepted",
		zap.String("job_id", jobID),
		zap.String("bid_id", bidID),
		zap.String("booking_id", created.ID),
	)

	return created, nil
}

// RejectBid marks a pending bid rejected. Rejecting an already rejected bid
// is a no-op so owners can safely retry.
func (s *Service) RejectBid(ctx context.Context, jobID, bidID, actorID string) (*Bid, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != actorID {
		return nil, ErrNotJobOwner
	}

	var bid Bid
	err = s.db.WithContext(ctx).First(&bid, "id = ? AND job_id = ?", bidID, jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, errutil.Internal("failed to load bid", err)
	}

	switch bid.Status {
	case BidStatusRejected:
		return &bid, nil
	case BidStatusAccepted:
		return nil, ErrBidNotPending
	}

	res := s.db.WithContext(ctx).Model(&Bid{}).
		Where("id = ? AND status = ?", bidID, BidStatusPending).
		Update("status", BidStatusRejected)
	if res.Error != nil {
		return nil, errutil.Internal("failed to reject bid", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrBidNotPending
	}

	bid.Status = BidStatusRejected
	return &bid, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
