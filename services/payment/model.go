package payment

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindDeposit Kind = "deposit"
	KindFinal   Kind = "final"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether a payment can never change status again.
// A succeeded payment is not terminal: it may still be refunded.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Payment rows are append-only except for the single status transition per
// record. ExternalReference is the provider intent id and is the
// reconciliation key. OpenKey holds booking_id:kind while the payment is
// pending or settled and goes NULL on failure or refund; since NULLs never
// collide, the unique index allows at most one open payment per slot.
type Payment struct {
	ID                string `gorm:"primaryKey"`
	Code              string `gorm:"uniqueIndex"`
	BookingID         string `gorm:"index"`
	CustomerID        string `gorm:"index"`
	ProviderID        string
	Kind              Kind
	AmountCents       int64
	Currency          string
	Status            Status         `gorm:"index"`
	ExternalReference string         `gorm:"uniqueIndex"`
	OpenKey           *string        `gorm:"uniqueIndex"`
	Metadata          datatypes.JSON `gorm:"type:json"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BillingProfile maps a platform actor to their provider-side customer.
type BillingProfile struct {
	ActorID     string `gorm:"primaryKey"`
	CustomerRef string `gorm:"uniqueIndex"`
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusSent    PayoutStatus = "sent"
)

// Payout records the fund distribution to a provider after a succeeded
// final payment, net of the platform fee.
type Payout struct {
	ID                string `gorm:"primaryKey"`
	Code              string `gorm:"uniqueIndex"`
	BookingID         string `gorm:"uniqueIndex"`
	ProviderID        string `gorm:"index"`
	GrossCents        int64
	FeeCents          int64
	NetCents          int64
	Currency          string
	TransferReference string
	Status            PayoutStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookEvent is the dedup log for the provider's at-least-once feed.
type WebhookEvent struct {
	ID          string `gorm:"primaryKey"`
	Type        string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}
