package agreement

import "time"

type Status string

const (
	// StatusCustomerSigned is the only persisted state: an agreement row
	// exists exactly when the customer has signed it.
	StatusCustomerSigned Status = "customer_signed"
)

// Agreement is immutable once written. The unique index on BookingID
// enforces at most one agreement per booking.
type Agreement struct {
	ID            string `gorm:"primaryKey"`
	BookingID     string `gorm:"uniqueIndex"`
	Text          string
	SignatureName string
	Accepted      bool
	Status        Status
	SignedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
