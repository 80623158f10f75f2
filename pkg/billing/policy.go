package billing

import (
	"painterhub-platform/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(FromConfig),
)

// Policy is the single source of billing arithmetic. One deposit rate and
// one platform fee apply everywhere; there is no per-flow tier.
type Policy struct {
	Currency                  string
	DepositPercent            int64
	PlatformFeePercent        int64
	SingleVisitThresholdCents int64
	SingleVisitCategories     map[string]bool
}

func FromConfig(cfg *config.Config) Policy {
	categories := make(map[string]bool, len(cfg.Billing.SingleVisitCategories))
	for _, c := range cfg.Billing.SingleVisitCategories {
		categories[c] = true
	}

	return Policy{
		Currency:                  cfg.Billing.Currency,
		DepositPercent:            cfg.Billing.DepositPercent,
		PlatformFeePercent:        cfg.Billing.PlatformFeePercent,
		SingleVisitThresholdCents: cfg.Billing.SingleVisitThresholdCents,
		SingleVisitCategories:     categories,
	}
}

// DepositCents rounds half-up to the smallest currency unit.
func (p Policy) DepositCents(totalCents int64) int64 {
	return roundPercent(totalCents, p.DepositPercent)
}

// FinalCents is the exact remainder so deposit + final always equals total.
func (p Policy) FinalCents(totalCents int64) int64 {
	return totalCents - p.DepositCents(totalCents)
}

func (p Policy) PlatformFeeCents(totalCents int64) int64 {
	return roundPercent(totalCents, p.PlatformFeePercent)
}

func (p Policy) PayoutCents(totalCents int64) int64 {
	return totalCents - p.PlatformFeeCents(totalCents)
}

// SingleVisit reports whether a booking qualifies for the
// full-payment-on-completion agreement clause.
func (p Policy) SingleVisit(category string, totalCents int64) bool {
	if p.SingleVisitCategories[category] {
		return true
	}
	return totalCents < p.SingleVisitThresholdCents
}

func roundPercent(amountCents, percent int64) int64 {
	return (amountCents*percent + 50) / 100
}
