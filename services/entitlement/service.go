package entitlement

import (
	"context"
	"errors"
	"time"

	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/payprovider"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	provider *payprovider.Client
	cfg      *config.Config
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Provider *payprovider.Client
	Config   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		provider: p.Provider,
		cfg:      p.Config,
	}
}

// Check answers whether an actor currently holds bidding privileges.
// Any lookup failure counts as not entitled; the gate never fails open.
func (s *Service) Check(ctx context.Context, actorID string) Decision {
	var e Entitlement
	err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Decision{Entitled: false, Reason: "no subscription on file"}
		}
		zap.L().Error("entitlement lookup failed, failing closed",
			zap.String("actor_id", actorID), zap.Error(err))
		return Decision{Entitled: false, Reason: "entitlement lookup failed"}
	}

	if e.Status != StatusTrial && e.Status != StatusActive {
		return Decision{Entitled: false, Reason: "subscription is " + string(e.Status)}
	}

	now := time.Now()
	if !e.CurrentPeriodStart.IsZero() && now.Before(e.CurrentPeriodStart) {
		return Decision{Entitled: false, Reason: "subscription period has not started"}
	}
	if !e.CurrentPeriodEnd.IsZero() && now.After(e.CurrentPeriodEnd) {
		return Decision{Entitled: false, Reason: "subscription period has ended"}
	}

	return Decision{Entitled: true}
}

// Subscribe opens a provider subscription with the configured trial period
// and records the trial entitlement locally.
func (s *Service) Subscribe(ctx context.Context, actorID, email, plan string) (*Entitlement, error) {
	if actorID == "" || email == "" {
		return nil, errutil.ValidationFailed("actor and email are required", nil)
	}

	customer, err := s.provider.CreateCustomer(ctx, email, map[string]string{"actor_id": actorID})
	if err != nil {
		return nil, err
	}

	sub, err := s.provider.CreateSubscription(ctx, customer.ID, plan, s.cfg.Provider.TrialDays)
	if err != nil {
		return nil, err
	}

	e := &Entitlement{
		ActorID:            actorID,
		Status:             StatusTrial,
		SubscriptionRef:    sub.ID,
		CurrentPeriodStart: time.Now(),
		CurrentPeriodEnd:   time.Unix(sub.TrialEnd, 0),
	}

	if err := s.upsert(ctx, e); err != nil {
		return nil, err
	}

	zap.L().Info("subscription opened",
		zap.String("actor_id", actorID), zap.String("subscription_ref", sub.ID))

	return e, nil
}

// Cancel closes the provider subscription; the terminal status lands via the
// subscription.deleted event, but the local row is downgraded immediately so
// the gate does not lag.
func (s *Service) Cancel(ctx context.Context, actorID string) (*Entitlement, error) {
	var e Entitlement
	if err := s.db.WithContext(ctx).Where("actor_id = ?", actorID).First(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("no subscription on file", nil)
		}
		return nil, errutil.Internal("failed to load entitlement", err)
	}

	if e.SubscriptionRef != "" {
		if _, err := s.provider.CancelSubscription(ctx, e.SubscriptionRef); err != nil {
			return nil, err
		}
	}

	e.Status = StatusCanceled
	if err := s.upsert(ctx, &e); err != nil {
		return nil, err
	}

	return &e, nil
}

// ApplySubscriptionEvent folds one provider feed event into the read model.
// Callers handle event-level dedup; applying the same event twice converges
// to the same row.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, ev *payprovider.Event) error {
	data, err := ev.Subscription()
	if err != nil {
		return err
	}

	actorID := data.Metadata["actor_id"]
	if actorID == "" {
		// Fall back to the subscription ref already on file.
		var existing Entitlement
		if err := s.db.WithContext(ctx).Where("subscription_ref = ?", data.ID).First(&existing).Error; err != nil {
			return errutil.NotFound("subscription event matches no known actor", err)
		}
		actorID = existing.ActorID
	}

	status := statusFromEvent(ev.Type, data.Status)

	e := &Entitlement{
		ActorID:         actorID,
		Status:          status,
		SubscriptionRef: data.ID,
	}
	if data.CurrentPeriodStart > 0 {
		e.CurrentPeriodStart = time.Unix(data.CurrentPeriodStart, 0)
	}
	if data.CurrentPeriodEnd > 0 {
		e.CurrentPeriodEnd = time.Unix(data.CurrentPeriodEnd, 0)
	}

	if err := s.upsert(ctx, e); err != nil {
		return err
	}

	zap.L().Info("entitlement updated from provider event",
		zap.String("actor_id", actorID),
		zap.String("event_type", ev.Type),
		zap.String("status", string(status)),
	)

	return nil
}

func (s *Service) upsert(ctx context.Context, e *Entitlement) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "subscription_ref", "current_period_start", "current_period_end", "updated_at",
		}),
	}).Create(e).Error
	if err != nil {
		return errutil.Internal("failed to persist entitlement", err)
	}
	return nil
}

func statusFromEvent(eventType, providerStatus string) Status {
	switch eventType {
	case payprovider.EventSubscriptionDeleted:
		return StatusCanceled
	case payprovider.EventInvoicePaymentFailed:
		return StatusPastDue
	case payprovider.EventInvoicePaymentSucceeded:
		return StatusActive
	}

	switch providerStatus {
	case "trialing":
		return StatusTrial
	case "active":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusNone
	}
}
