package booking

import (
	"context"
	"errors"
	"time"

	"painterhub-platform/pkg/db/pagination"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errutil.NotFound("booking not found", nil)
	ErrInvalidTransition = errutil.Conflict("invalid booking status transition", nil)
	ErrInvalidAmounts    = errutil.ValidationFailed("deposit must not exceed total and amounts must be positive", nil)
	ErrNotParticipant    = errutil.Forbidden("caller is not a party to this booking", nil)
)

// Service is the single writer of booking status. Components feed it events;
// nobody sets status directly.
type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	codes sequence.Generator
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Codes sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		codes: p.Codes,
	}
}

// WithTx returns a copy of the service scoped to an open transaction so
// callers can fold booking creation into their own atomic unit.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	clone := *s
	clone.db = tx
	return &clone
}

type CreateParams struct {
	CustomerID         string
	ProviderID         string
	Category           string
	ScheduledAt        time.Time
	ServiceAddress     string
	ServicePhone       string
	TotalAmountCents   int64
	DepositAmountCents int64
}

// Create persists a new booking in pending_deposit. Amounts are fixed here
// and never recomputed afterwards.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Booking, error) {
	if p.TotalAmountCents <= 0 || p.DepositAmountCents < 0 || p.DepositAmountCents > p.TotalAmountCents {
		return nil, ErrInvalidAmounts
	}
	if p.CustomerID == "" || p.ProviderID == "" {
		return nil, errutil.ValidationFailed("customer and provider are required", nil)
	}

	code, err := s.codes.NextBookingCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to allocate booking code", err)
	}

	b := &Booking{
		ID:                 s.node.Generate().String(),
		Code:               code,
		CustomerID:         p.CustomerID,
		ProviderID:         p.ProviderID,
		Category:           p.Category,
		ScheduledAt:        p.ScheduledAt,
		ServiceAddress:     p.ServiceAddress,
		ServicePhone:       p.ServicePhone,
		TotalAmountCents:   p.TotalAmountCents,
		DepositAmountCents: p.DepositAmountCents,
		Status:             StatusPendingDeposit,
	}

	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, errutil.Internal("failed to create booking", err)
	}

	zap.L().Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("code", b.Code),
		zap.Int64("total_cents", b.TotalAmountCents),
		zap.Int64("deposit_cents", b.DepositAmountCents),
	)

	return b, nil
}

// ListForActor pages through the bookings an actor participates in, oldest
// first. Snowflake ids are time-ordered, so the id doubles as the cursor.
func (s *Service) ListForActor(ctx context.Context, actorID string, page pagination.Pagination) ([]*Booking, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := s.db.WithContext(ctx).
		Where("customer_id = ? OR provider_id = ?", actorID, actorID).
		Order("id ASC").
		Limit(limit + 1)

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("malformed cursor", err)
		}
		q = q.Where("id > ?", cursor.ID)
	}

	var bookings []*Booking
	if err := q.Find(&bookings).Error; err != nil {
		return nil, nil, errutil.Internal("failed to list bookings", err)
	}

	info, bookings := pagination.BuildCursorPageInfo(bookings, limit, func(b *Booking) string {
		next, err := pagination.EncodeCursor(pagination.Cursor{ID: b.ID})
		if err != nil {
			return ""
		}
		return next
	})

	return bookings, info, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	var b Booking
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errutil.Internal("failed to load booking", err)
	}
	return &b, nil
}

// Advance applies one transition as a conditional write scoped to the
// expected current status. A request that does not match the current state
// is rejected, never silently applied.
func (s *Service) Advance(ctx context.Context, id string, from, to Status) (*Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	res := s.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return nil, errutil.Internal("failed to advance booking", res.Error)
	}

	if res.RowsAffected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		zap.L().Warn("booking transition rejected",
			zap.String("booking_id", id),
			zap.String("expected", string(from)),
			zap.String("actual", string(current.Status)),
			zap.String("requested", string(to)),
		)
		return nil, ErrInvalidTransition
	}

	zap.L().Info("booking advanced",
		zap.String("booking_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return s.Get(ctx, id)
}

// Cancel moves a pre-terminal booking to cancelled. Only a party to the
// booking may cancel it.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*Booking, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if actorID != b.CustomerID && actorID != b.ProviderID {
		return nil, ErrNotParticipant
	}

	if b.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	return s.Advance(ctx, id, b.Status, StatusCancelled)
}

// MarkRefunded is driven by the payment orchestrator after a refund lands.
func (s *Service) MarkRefunded(ctx context.Context, id string) (*Booking, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if b.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	return s.Advance(ctx, id, b.Status, StatusRefunded)
}
