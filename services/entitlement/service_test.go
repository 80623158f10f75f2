package entitlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Entitlement{})
	return &Service{db: db}
}

func seed(t *testing.T, svc *Service, e *Entitlement) {
	t.Helper()
	require.NoError(t, svc.db.Create(e).Error)
}

func TestCheckEntitledStatuses(t *testing.T) {
	svc := newTestService(t)
	end := time.Now().Add(30 * 24 * time.Hour)

	seed(t, svc, &Entitlement{ActorID: "p-trial", Status: StatusTrial, CurrentPeriodEnd: end})
	seed(t, svc, &Entitlement{ActorID: "p-active", Status: StatusActive, CurrentPeriodEnd: end})
	seed(t, svc, &Entitlement{ActorID: "p-pastdue", Status: StatusPastDue, CurrentPeriodEnd: end})
	seed(t, svc, &Entitlement{ActorID: "p-canceled", Status: StatusCanceled, CurrentPeriodEnd: end})

	require.True(t, svc.Check(context.Background(), "p-trial").Entitled)
	require.True(t, svc.Check(context.Background(), "p-active").Entitled)
	require.False(t, svc.Check(context.Background(), "p-pastdue").Entitled)
	require.False(t, svc.Check(context.Background(), "p-canceled").Entitled)
}

func TestCheckUnknownActor(t *testing.T) {
	svc := newTestService(t)

	d := svc.Check(context.Background(), "nobody")
	require.False(t, d.Entitled)
	require.Equal(t, "no subscription on file", d.Reason)
}

func TestCheckExpiredWindow(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, &Entitlement{
		ActorID:          "p-expired",
		Status:           StatusActive,
		CurrentPeriodEnd: time.Now().Add(-time.Hour),
	})

	d := svc.Check(context.Background(), "p-expired")
	require.False(t, d.Entitled)
	require.Equal(t, "subscription period has ended", d.Reason)
}

func TestCheckFutureWindow(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc, &Entitlement{
		ActorID:            "p-future",
		Status:             StatusActive,
		CurrentPeriodStart: time.Now().Add(time.Hour),
		CurrentPeriodEnd:   time.Now().Add(30 * 24 * time.Hour),
	})

	d := svc.Check(context.Background(), "p-future")
	require.False(t, d.Entitled)
	require.Equal(t, "subscription period has not started", d.Reason)
}

func TestCheckFailsClosedOnLookupError(t *testing.T) {
	svc := newTestService(t)

	sqlDB, err := svc.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	d := svc.Check(context.Background(), "anyone")
	require.False(t, d.Entitled)
	require.Equal(t, "entitlement lookup failed", d.Reason)
}

func subscriptionEvent(t *testing.T, id, eventType, status, actorID string, periodEnd int64) *payprovider.Event {
	t.Helper()

	data, err := json.Marshal(payprovider.SubscriptionEventData{
		ID:               "sub-1",
		Status:           status,
		CurrentPeriodEnd: periodEnd,
		Metadata:         map[string]string{"actor_id": actorID},
	})
	require.NoError(t, err)

	return &payprovider.Event{ID: id, Type: eventType, Data: data}
}

func TestApplySubscriptionEventCreatesAndUpdates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	end := time.Now().Add(14 * 24 * time.Hour).Unix()

	ev := subscriptionEvent(t, "evt-1", payprovider.EventSubscriptionCreated, "trialing", "painter-1", end)
	require.NoError(t, svc.ApplySubscriptionEvent(ctx, ev))
	require.True(t, svc.Check(ctx, "painter-1").Entitled)

	ev = subscriptionEvent(t, "evt-2", payprovider.EventSubscriptionDeleted, "canceled", "painter-1", end)
	require.NoError(t, svc.ApplySubscriptionEvent(ctx, ev))
	require.False(t, svc.Check(ctx, "painter-1").Entitled)
}

func TestApplySubscriptionEventIsConvergent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	end := time.Now().Add(14 * 24 * time.Hour).Unix()

	ev := subscriptionEvent(t, "evt-1", payprovider.EventSubscriptionUpdated, "active", "painter-2", end)
	require.NoError(t, svc.ApplySubscriptionEvent(ctx, ev))
	require.NoError(t, svc.ApplySubscriptionEvent(ctx, ev))

	var count int64
	require.NoError(t, svc.db.Model(&Entitlement{}).Where("actor_id = ?", "painter-2").Count(&count).Error)
	require.Equal(t, int64(1), count)
	require.True(t, svc.Check(ctx, "painter-2").Entitled)
}

func TestApplySubscriptionEventByRefOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	seed(t, svc, &Entitlement{ActorID: "painter-3", Status: StatusActive, SubscriptionRef: "sub-1"})

	ev := subscriptionEvent(t, "evt-9", payprovider.EventInvoicePaymentFailed, "past_due", "", 0)
	require.NoError(t, svc.ApplySubscriptionEvent(ctx, ev))

	d := svc.Check(ctx, "painter-3")
	require.False(t, d.Entitled)
}

func TestStatusFromEvent(t *testing.T) {
	require.Equal(t, StatusCanceled, statusFromEvent(payprovider.EventSubscriptionDeleted, "active"))
	require.Equal(t, StatusPastDue, statusFromEvent(payprovider.EventInvoicePaymentFailed, "active"))
	require.Equal(t, StatusActive, statusFromEvent(payprovider.EventInvoicePaymentSucceeded, ""))
	require.Equal(t, StatusTrial, statusFromEvent(payprovider.EventSubscriptionUpdated, "trialing"))
	require.Equal(t, StatusNone, statusFromEvent(payprovider.EventSubscriptionUpdated, "weird"))
}
