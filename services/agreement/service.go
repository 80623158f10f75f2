package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/services/booking"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSignatureRequired = errutil.ValidationFailed("a typed signature is required", nil)
	ErrNotAccepted       = errutil.ValidationFailed("the agreement terms must be accepted", nil)
	ErrBookingNotFound   = errutil.NotFound("booking not found", nil)
	ErrAlreadyExists     = errutil.Conflict("booking already has a signed agreement", nil)
	ErrNotFound          = errutil.NotFound("agreement not found", nil)
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	bookings *booking.Service
	policy   billing.Policy
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Bookings *booking.Service
	Policy   billing.Policy
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		bookings: p.Bookings,
		policy:   p.Policy,
	}
}

// GenerateText renders the terms for a booking. It is a pure function of the
// booking fields and the billing policy: the same booking always yields the
// same text, so the customer signs exactly what they previewed.
func (s *Service) GenerateText(b *booking.Booking) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "SERVICE AGREEMENT — %s\n\n", b.Code)
	fmt.Fprintf(&sb, "This agreement covers painting services (%s) at %s,\n", b.Category, b.ServiceAddress)
	fmt.Fprintf(&sb, "scheduled for %s.\n\n", b.ScheduledAt.UTC().Format("January 2, 2006"))
	fmt.Fprintf(&sb, "Total price: %s.\n", formatCents(b.TotalAmountCents))

	if s.policy.SingleVisit(b.Category, b.TotalAmountCents) {
		sb.WriteString("\nPAYMENT TERMS (SINGLE VISIT)\n")
		sb.WriteString("The full amount is due upon completion of the work. No deposit\n")
		sb.WriteString("is collected in advance for single-visit engagements.\n")
	} else {
		fmt.Fprintf(&sb, "Deposit due to confirm the booking: %s.\n", formatCents(b.DepositAmountCents))
		fmt.Fprintf(&sb, "Balance due upon completion: %s.\n", formatCents(b.TotalAmountCents-b.DepositAmountCents))
		sb.WriteString("\nPAYMENT TERMS (DEPOSIT AND BALANCE)\n")
		sb.WriteString("The deposit is collected when this agreement is signed and is\n")
		sb.WriteString("applied toward the total price. The remaining balance is due\n")
		sb.WriteString("upon completion of the work.\n")
	}

	sb.WriteString("\nCANCELLATION\n")
	sb.WriteString("Either party may cancel before work begins. Deposits already paid\n")
	sb.WriteString("are refunded through the original payment method.\n")

	return sb.String()
}

// Preview returns the text the customer would sign, without persisting
// anything. Only a party to the booking may preview it.
func (s *Service) Preview(ctx context.Context, bookingID, actorID string) (string, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if b.CustomerID != actorID && b.ProviderID != actorID {
		return "", errutil.Forbidden("caller is not a party to this booking", nil)
	}
	return s.GenerateText(b), nil
}

type SignParams struct {
	BookingID     string
	ActorID       string
	SignatureName string
	Accepted      bool
}

// Sign records the customer's signature and advances the booking out of the
// pre-payment phase. The unique index on booking_id backstops the prior
// agreement check under concurrent signing.
func (s *Service) Sign(ctx context.Context, p SignParams) (*Agreement, error) {
	if strings.TrimSpace(p.SignatureName) == "" {
		return nil, ErrSignatureRequired
	}
	if !p.Accepted {
		return nil, ErrNotAccepted
	}

	b, err := s.loadBooking(ctx, p.BookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != p.ActorID {
		return nil, errutil.Forbidden("only the booking customer may sign", nil)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Agreement{}).
		Where("booking_id = ?", p.BookingID).
		Count(&existing).Error; err != nil {
		return nil, errutil.Internal("failed to check for a prior agreement", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyExists
	}

	a := &Agreement{
		ID:            s.node.Generate().String(),
		BookingID:     p.BookingID,
		Text:          s.GenerateText(b),
		SignatureName: strings.TrimSpace(p.SignatureName),
		Accepted:      true,
		Status:        StatusCustomerSigned,
		SignedAt:      time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return errutil.Internal("failed to persist agreement", err)
		}

		_, err := s.bookings.WithTx(tx).Advance(ctx, b.ID, booking.StatusPendingDeposit, booking.StatusAgreementSigned)
		return err
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("sign agreement transaction failed", err)
	}

	zap.L().Info("agreement signed",
		zap.String("agreement_id", a.ID),
		zap.String("booking_id", b.ID),
		zap.String("signed_by", a.SignatureName),
	)

	return a, nil
}

// Get returns the signed agreement for a booking.
func (s *Service) Get(ctx context.Context, bookingID string) (*Agreement, error) {
	var a Agreement
	err := s.db.WithContext(ctx).First(&a, "booking_id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errutil.Internal("failed to load agreement", err)
	}
	return &a, nil
}

func (s *Service) loadBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
