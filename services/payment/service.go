package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/pkg/sequence"
	"painterhub-platform/pkg/task"
	"painterhub-platform/pkg/taskname"
	"painterhub-platform/services/booking"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound       = errutil.NotFound("payment not found", nil)
	ErrBookingNotFound       = errutil.NotFound("booking not found", nil)
	ErrPaymentAlreadyPending = errutil.Conflict("a payment of this kind is already pending or settled for the booking", nil)
	ErrAgreementNotSigned    = errutil.Conflict("the booking agreement must be signed before payment", nil)
	ErrDepositNotPaid        = errutil.Conflict("the deposit must be paid before the final payment", nil)
	ErrNoRefundablePayment   = errutil.Conflict("no refundable payment of this kind exists for the booking", nil)
	ErrInvalidKind           = errutil.ValidationFailed("payment kind must be deposit or final", nil)
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	codes    sequence.Generator
	provider *payprovider.Client
	bookings *booking.Service
	policy   billing.Policy
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Codes    sequence.Generator
	Provider *payprovider.Client
	Bookings *booking.Service
	Policy   billing.Policy
	Enqueuer task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		codes:    p.Codes,
		provider: p.Provider,
		bookings: p.Bookings,
		policy:   p.Policy,
		enqueuer: p.Enqueuer,
	}
}

// EnsureBillingProfile returns the actor's provider-side billing identity,
// creating one on first use.
func (s *Service) EnsureBillingProfile(ctx context.Context, actorID, email string) (*BillingProfile, error) {
	var profile BillingProfile
	err := s.db.WithContext(ctx).First(&profile, "actor_id = ?", actorID).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.Internal("failed to load billing profile", err)
	}

	customer, err := s.provider.CreateCustomer(ctx, email, map[string]string{"actor_id": actorID})
	if err != nil {
		return nil, err
	}

	profile = BillingProfile{
		ActorID:     actorID,
		CustomerRef: customer.ID,
		Email:       email,
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, errutil.Internal("failed to persist billing profile", err)
	}

	zap.L().Info("billing profile created",
		zap.String("actor_id", actorID),
		zap.String("customer_ref", customer.ID),
	)

	return &profile, nil
}

// CreateDepositIntent opens the deposit payment for a booking whose
// agreement has been signed. The dedup guard refuses a second intent while
// one is pending or settled.
func (s *Service) CreateDepositIntent(ctx context.Context, bookingID, actorID, email string) (*Payment, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != actorID {
		return nil, errutil.Forbidden("only the booking customer may pay", nil)
	}
	if b.Status != booking.StatusAgreementSigned {
		return nil, ErrAgreementNotSigned
	}

	return s.createIntent(ctx, b, KindDeposit, b.DepositAmountCents, email)
}

// CreateFinalIntent opens the balance payment once the deposit has settled.
// The booking moves to final_payment_pending when the intent is created.
func (s *Service) CreateFinalIntent(ctx context.Context, bookingID, actorID, email string) (*Payment, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != actorID {
		return nil, errutil.Forbidden("only the booking customer may pay", nil)
	}

	var settled int64
	if err := s.db.WithContext(ctx).Model(&Payment{}).
		Where("booking_id = ? AND kind = ? AND status = ?", b.ID, KindDeposit, StatusSucceeded).
		Count(&settled).Error; err != nil {
		return nil, errutil.Internal("failed to check deposit payment", err)
	}
	if settled == 0 || b.Status != booking.StatusDepositPaid {
		return nil, ErrDepositNotPaid
	}

	p, err := s.buildIntent(ctx, b, KindFinal, b.TotalAmountCents-b.DepositAmountCents, email)
	if err != nil {
		return nil, err
	}

	// The intent row and the booking advance commit together: a concurrent
	// cancel that wins the advance race leaves no stranded pending payment.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.insertIntent(ctx, tx, p); err != nil {
			return err
		}
		_, err := s.bookings.WithTx(tx).Advance(ctx, b.ID, booking.StatusDepositPaid, booking.StatusFinalPaymentPending)
		return err
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("final intent transaction failed", err)
	}

	return p, nil
}

func (s *Service) createIntent(ctx context.Context, b *booking.Booking, kind Kind, amountCents int64, email string) (*Payment, error) {
	p, err := s.buildIntent(ctx, b, kind, amountCents, email)
	if err != nil {
		return nil, err
	}
	if err := s.insertIntent(ctx, s.db, p); err != nil {
		return nil, err
	}
	return p, nil
}

// buildIntent runs the dedup guard and the provider call and returns the
// unpersisted payment row; the caller decides which transaction inserts it.
func (s *Service) buildIntent(ctx context.Context, b *booking.Booking, kind Kind, amountCents int64, email string) (*Payment, error) {
	var open int64
	if err := s.db.WithContext(ctx).Model(&Payment{}).
		Where("booking_id = ? AND kind = ? AND status IN ?", b.ID, kind, []Status{StatusPending, StatusSucceeded}).
		Count(&open).Error; err != nil {
		return nil, errutil.Internal("failed to check existing payments", err)
	}
	if open > 0 {
		return nil, ErrPaymentAlreadyPending
	}

	profile, err := s.EnsureBillingProfile(ctx, b.CustomerID, email)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.CreateIntent(ctx, amountCents, s.policy.Currency, profile.CustomerRef, map[string]string{
		"booking_id":   b.ID,
		"payment_kind": string(kind),
	})
	if err != nil {
		return nil, err
	}

	code, err := s.codes.NextPaymentCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to allocate payment code", err)
	}

	meta, _ := json.Marshal(map[string]string{
		"booking_code": b.Code,
		"intent_id":    intent.ID,
	})

	return &Payment{
		ID:                s.node.Generate().String(),
		Code:              code,
		BookingID:         b.ID,
		CustomerID:        b.CustomerID,
		ProviderID:        b.ProviderID,
		Kind:              kind,
		AmountCents:       amountCents,
		Currency:          s.policy.Currency,
		Status:            StatusPending,
		ExternalReference: intent.ID,
		OpenKey:           openKey(b.ID, kind),
		Metadata:          datatypes.JSON(meta),
	}, nil
}

// insertIntent persists a built intent. The unique index on open_key is the
// backstop behind the dedup count: a racing insert for the same booking and
// kind loses here instead of slipping through.
func (s *Service) insertIntent(ctx context.Context, db *gorm.DB, p *Payment) error {
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrPaymentAlreadyPending
		}
		return errutil.Internal("failed to persist payment", err)
	}

	zap.L().Info("payment intent created",
		zap.String("payment_id", p.ID),
		zap.String("booking_id", p.BookingID),
		zap.String("kind", string(p.Kind)),
		zap.Int64("amount_cents", p.AmountCents),
		zap.String("external_reference", p.ExternalReference),
	)

	return nil
}

// openKey names the one slot a booking has per payment kind. It is cleared
// when a payment fails or is refunded so a fresh intent can take the slot.
func openKey(bookingID string, kind Kind) *string {
	k := bookingID + ":" + string(kind)
	return &k
}

// Reconcile applies an asynchronous payment outcome. Delivery is
// at-least-once, so a payment already past pending is left untouched. The
// status flip and the booking advance commit together.
func (s *Service) Reconcile(ctx context.Context, externalReference string, outcome Outcome) (*Payment, error) {
	var p Payment
	err := s.db.WithContext(ctx).First(&p, "external_reference = ?", externalReference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, errutil.Internal("failed to load payment", err)
	}

	if p.Status != StatusPending {
		zap.L().Info("reconcile ignored, payment already settled",
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)),
		)
		return &p, nil
	}

	target := StatusSucceeded
	if outcome == OutcomeFailed {
		target = StatusFailed
	}

	updates := map[string]interface{}{"status": target}
	if target == StatusFailed {
		// A failed payment frees its slot so a fresh intent can be opened.
		updates["open_key"] = nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, StatusPending).
			Updates(updates)
		if res.Error != nil {
			return errutil.Internal("failed to settle payment", res.Error)
		}
		if res.RowsAffected == 0 {
			// A duplicate delivery settled it first.
			return nil
		}

		if target != StatusSucceeded {
			return nil
		}

		switch p.Kind {
		case KindDeposit:
			_, err := s.bookings.WithTx(tx).Advance(ctx, p.BookingID, booking.StatusAgreementSigned, booking.StatusDepositPaid)
			return err
		case KindFinal:
			_, err := s.bookings.WithTx(tx).Advance(ctx, p.BookingID, booking.StatusFinalPaymentPending, booking.StatusCompleted)
			return err
		}
		return nil
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("reconcile transaction failed", err)
	}

	p.Status = target

	zap.L().Info("payment reconciled",
		zap.String("payment_id", p.ID),
		zap.String("external_reference", externalReference),
		zap.String("outcome", string(outcome)),
	)

	if target == StatusSucceeded && p.Kind == KindFinal {
		if err := s.enqueueDistribution(p.BookingID); err != nil {
			zap.L().Error("failed to enqueue payout distribution",
				zap.String("booking_id", p.BookingID),
				zap.Error(err),
			)
		}
	}

	return &p, nil
}

func (s *Service) enqueueDistribution(bookingID string) error {
	payload, err := json.Marshal(DistributePayload{BookingID: bookingID})
	if err != nil {
		return err
	}
	_, err = s.enqueuer.Enqueue(
		asynq.NewTask(taskname.PaymentDistribute, payload),
		asynq.Queue("critical"),
		asynq.MaxRetry(5),
	)
	return err
}

// Distribute pays the provider for a completed booking, net of the platform
// fee. The unique index on Payout.BookingID makes duplicate task deliveries
// a no-op.
func (s *Service) Distribute(ctx context.Context, bookingID string) (*Payout, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var existing Payout
	err = s.db.WithContext(ctx).First(&existing, "booking_id = ?", bookingID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.Internal("failed to check existing payout", err)
	}

	gross := b.TotalAmountCents
	fee := s.policy.PlatformFeeCents(gross)
	net := gross - fee

	transfer, err := s.provider.CreateTransfer(ctx, net, s.policy.Currency, b.ProviderID, map[string]string{
		"booking_id": b.ID,
	})
	if err != nil {
		return nil, err
	}

	code, err := s.codes.NextPayoutCode(ctx)
	if err != nil {
		return nil, errutil.Internal("failed to allocate payout code", err)
	}

	payout := &Payout{
		ID:                s.node.Generate().String(),
		Code:              code,
		BookingID:         b.ID,
		ProviderID:        b.ProviderID,
		GrossCents:        gross,
		FeeCents:          fee,
		NetCents:          net,
		Currency:          s.policy.Currency,
		TransferReference: transfer.ID,
		Status:            PayoutStatusSent,
	}

	if err := s.db.WithContext(ctx).Create(payout).Error; err != nil {
		return nil, errutil.Internal("failed to persist payout", err)
	}

	zap.L().Info("payout distributed",
		zap.String("payout_id", payout.ID),
		zap.String("booking_id", b.ID),
		zap.Int64("net_cents", net),
		zap.Int64("fee_cents", fee),
	)

	return payout, nil
}

// Refund reverses the single succeeded payment of the given kind. A repeat
// call fails loudly with NoRefundablePayment so the caller sees it already
// happened.
func (s *Service) Refund(ctx context.Context, bookingID string, kind Kind) (*Payment, error) {
	if kind != KindDeposit && kind != KindFinal {
		return nil, ErrInvalidKind
	}

	if _, err := s.loadBooking(ctx, bookingID); err != nil {
		return nil, err
	}

	var p Payment
	err := s.db.WithContext(ctx).
		First(&p, "booking_id = ? AND kind = ? AND status = ?", bookingID, kind, StatusSucceeded).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRefundablePayment
	}
	if err != nil {
		return nil, errutil.Internal("failed to load refundable payment", err)
	}

	// Claim the payment before touching the provider. The conditional flip
	// is the linearization point: of two racing callers, exactly one wins
	// the claim, so the provider sees exactly one refund.
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", p.ID, StatusSucceeded).
		Updates(map[string]interface{}{"status": StatusRefunded, "open_key": nil})
	if res.Error != nil {
		return nil, errutil.Internal("failed to mark payment refunded", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoRefundablePayment
	}

	if _, err := s.provider.CreateRefund(ctx, p.ExternalReference, p.AmountCents); err != nil {
		// Release the claim so the caller can retry once the provider
		// recovers.
		revert := map[string]interface{}{"status": StatusSucceeded, "open_key": openKey(p.BookingID, p.Kind)}
		if rerr := s.db.WithContext(ctx).Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, StatusRefunded).
			Updates(revert).Error; rerr != nil {
			zap.L().Error("failed to release refund claim",
				zap.String("payment_id", p.ID),
				zap.Error(rerr),
			)
		}
		return nil, err
	}

	if _, err := s.bookings.MarkRefunded(ctx, bookingID); err != nil {
		// The money has moved; a booking already in a terminal state stays
		// where it is.
		zap.L().Warn("payment refunded but booking did not transition",
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
	}

	p.Status = StatusRefunded

	zap.L().Info("payment refunded",
		zap.String("payment_id", p.ID),
		zap.String("booking_id", bookingID),
		zap.String("kind", string(kind)),
	)

	return &p, nil
}

// ListByBooking returns every payment for a booking, oldest first.
func (s *Service) ListByBooking(ctx context.Context, bookingID string) ([]*Payment, error) {
	var payments []*Payment
	if err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, errutil.Internal("failed to list payments", err)
	}
	return payments, nil
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

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
