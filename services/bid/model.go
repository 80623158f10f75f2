package bid

import "time"

type JobStatus string

const (
	JobStatusOpen      JobStatus = "open"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)

// Job is a customer's posted project. Only this engine mutates it while it
// is collecting bids; once assigned, the booking lifecycle takes over.
type Job struct {
	ID             string `gorm:"primaryKey"`
	OwnerID        string `gorm:"index"`
	Title          string
	Description    string
	Category       string
	ScheduledAt    time.Time
	ServiceAddress string
	ServicePhone   string
	Status         JobStatus `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Bid is a painter's proposed price. One bid per (job, bidder); pending
// until the owner decides, then terminal.
type Bid struct {
	ID          string `gorm:"primaryKey"`
	JobID       string `gorm:"index;uniqueIndex:idx_bid_job_bidder"`
	BidderID    string `gorm:"uniqueIndex:idx_bid_job_bidder"`
	AmountCents int64
	Status      BidStatus `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
