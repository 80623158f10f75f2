package entitlement

import "time"

type Status string

const (
	StatusNone     Status = "none"
	StatusTrial    Status = "trial"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Entitlement mirrors the provider-side subscription state for one actor.
// The provider's event feed is the source of truth; this row is a read model.
type Entitlement struct {
	ActorID            string `gorm:"primaryKey"`
	Status             Status `gorm:"index"`
	SubscriptionRef    string `gorm:"index"`
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Decision is the gate's answer. Reason is user-facing.
type Decision struct {
	Entitled bool   `json:"entitled"`
	Reason   string `json:"reason,omitempty"`
}
