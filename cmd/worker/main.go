package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/db"
	"painterhub-platform/pkg/gen"
	"painterhub-platform/pkg/logger"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/pkg/redis"
	"painterhub-platform/pkg/secrets"
	"painterhub-platform/pkg/sequence"
	"painterhub-platform/pkg/task"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/entitlement"
	"painterhub-platform/services/payment"
)

// The worker consumes the queue the API side fills: payment reconciliation,
// payout distribution and entitlement sync.
func main() {
	opts := []fx.Option{
		secrets.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		gen.Module,
		billing.Module,
		payprovider.Module,

		booking.Module,
		entitlement.Module,
		payment.Module,
		payment.Tasks,

		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
