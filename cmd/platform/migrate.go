package main

import (
	"painterhub-platform/services/agreement"
	"painterhub-platform/services/bid"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/entitlement"
	"painterhub-platform/services/payment"

	"gorm.io/gorm"
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&booking.Booking{},
		&entitlement.Entitlement{},
		&bid.Job{},
		&bid.Bid{},
		&agreement.Agreement{},
		&payment.Payment{},
		&payment.BillingProfile{},
		&payment.Payout{},
		&payment.WebhookEvent{},
	)
}
