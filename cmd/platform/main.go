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
	"painterhub-platform/pkg/health"
	"painterhub-platform/pkg/logger"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/pkg/redis"
	"painterhub-platform/pkg/secrets"
	"painterhub-platform/pkg/sequence"
	"painterhub-platform/pkg/server"
	"painterhub-platform/pkg/task"
	"painterhub-platform/services/agreement"
	"painterhub-platform/services/bid"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/entitlement"
	"painterhub-platform/services/payment"
)

func main() {
	opts := []fx.Option{
		secrets.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		billing.Module,
		payprovider.Module,
		server.Module,
		health.Module,
		secrets.Routes,

		booking.Module,
		entitlement.Module,
		bid.Module,
		agreement.Module,
		payment.Module,

		booking.Routes,
		entitlement.Routes,
		bid.Routes,
		agreement.Routes,
		payment.Routes,

		fx.Invoke(migrate),
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
