package booking

import "time"

type Status string

const (
	StatusPendingDeposit      Status = "pending_deposit"
	StatusAgreementSigned     Status = "agreement_signed"
	StatusDepositPaid         Status = "deposit_paid"
	StatusFinalPaymentPending Status = "final_payment_pending"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusRefunded            Status = "refunded"
)

// transitions is the whole lifecycle. Forward-only, with cancel/refund
// branches reachable from every pre-terminal state.
var transitions = map[Status][]Status{
	StatusPendingDeposit:      {StatusAgreementSigned, StatusCancelled, StatusRefunded},
	StatusAgreementSigned:     {StatusDepositPaid, StatusCancelled, StatusRefunded},
	StatusDepositPaid:         {StatusFinalPaymentPending, StatusCancelled, StatusRefunded},
	StatusFinalPaymentPending: {StatusCompleted, StatusCancelled, StatusRefunded},
	StatusCompleted:           {},
	StatusCancelled:           {},
	StatusRefunded:            {},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Booking struct {
	ID                 string `gorm:"primaryKey"`
	Code               string `gorm:"uniqueIndex"`
	CustomerID         string `gorm:"index"`
	ProviderID         string `gorm:"index"`
	Category           string
	ScheduledAt        time.Time
	ServiceAddress     string
	ServicePhone       string
	TotalAmountCents   int64
	DepositAmountCents int64
	Status             Status `gorm:"index"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
