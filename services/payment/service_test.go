package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"painterhub-platform/pkg/billing"
	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubEnqueuer records enqueued tasks instead of talking to redis.
type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (e *stubEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("t-%d", len(e.tasks))}, nil
}

// fakeProvider is an httptest double for the payment provider API.
// failRefunds makes that many refund calls answer 503; onIntent, when set,
// runs before an intent is served so a test can interleave other writes.
type fakeProvider struct {
	srv         *httptest.Server
	intents     atomic.Int64
	refunds     atomic.Int64
	transfers   atomic.Int64
	failRefunds atomic.Int64
	onIntent    func()
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	f := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "cus_test", "email": "jane@example.com"})
	})
	mux.HandleFunc("POST /v1/payment_intents", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Customer string `json:"customer"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.onIntent != nil {
			f.onIntent()
		}
		n := f.intents.Add(1)
		writeJSON(w, map[string]any{
			"id":       fmt.Sprintf("pi_%d", n),
			"amount":   body.Amount,
			"currency": body.Currency,
			"customer": body.Customer,
			"status":   "requires_confirmation",
		})
	})
	mux.HandleFunc("POST /v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		if f.failRefunds.Load() > 0 {
			f.failRefunds.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		n := f.refunds.Add(1)
		writeJSON(w, map[string]any{"id": fmt.Sprintf("re_%d", n), "status": "succeeded"})
	})
	mux.HandleFunc("POST /v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount      int64  `json:"amount"`
			Destination string `json:"destination"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := f.transfers.Add(1)
		writeJSON(w, map[string]any{
			"id":          fmt.Sprintf("tr_%d", n),
			"amount":      body.Amount,
			"destination": body.Destination,
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testPolicy() billing.Policy {
	return billing.Policy{
		Currency:                  "usd",
		DepositPercent:            15,
		PlatformFeePercent:        10,
		SingleVisitThresholdCents: 30000,
		SingleVisitCategories:     map[string]bool{"touch_up": true},
	}
}

type fixture struct {
	svc      *Service
	bookings *booking.Service
	provider *fakeProvider
	enqueuer *stubEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &Payment{}, &BillingProfile{}, &Payout{}, &WebhookEvent{}, &booking.Booking{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	provider := newFakeProvider(t)
	client := payprovider.NewClient(payprovider.Params{Config: &config.Config{
		Provider: config.ProviderConfig{
			BaseURL:     provider.srv.URL,
			APIKey:      "sk_test",
			Timeout:     2 * time.Second,
			MaxAttempts: 2,
			RetryDelay:  time.Millisecond,
		},
	}})

	bookings := booking.NewService(booking.ServiceParams{
		DB:    db,
		Node:  node,
		Codes: &testutil.StaticCodes{},
	})

	enqueuer := &stubEnqueuer{}
	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Codes:    &testutil.StaticCodes{},
		Provider: client,
		Bookings: bookings,
		Policy:   testPolicy(),
		Enqueuer: enqueuer,
	})

	return &fixture{svc: svc, bookings: bookings, provider: provider, enqueuer: enqueuer}
}

// signedBooking creates a booking already advanced past agreement signing.
func signedBooking(t *testing.T, f *fixture, totalCents int64) *booking.Booking {
	t.Helper()
	ctx := context.Background()

	b, err := f.bookings.Create(ctx, booking.CreateParams{
		CustomerID:         "cust-1",
		ProviderID:         "painter-1",
		Category:           "interior_full",
		ScheduledAt:        time.Now().Add(96 * time.Hour),
		ServiceAddress:     "12 Elm Street",
		ServicePhone:       "555-0101",
		TotalAmountCents:   totalCents,
		DepositAmountCents: testPolicy().DepositCents(totalCents),
	})
	require.NoError(t, err)

	_, err = f.bookings.Advance(ctx, b.ID, booking.StatusPendingDeposit, booking.StatusAgreementSigned)
	require.NoError(t, err)

	b.Status = booking.StatusAgreementSigned
	return b
}

func TestCreateDepositIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 49999)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "jane@example.com")
	require.NoError(t, err)
	require.Equal(t, KindDeposit, p.Kind)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, int64(7500), p.AmountCents)
	require.Equal(t, "pi_1", p.ExternalReference)

	var profile BillingProfile
	require.NoError(t, f.svc.db.First(&profile, "actor_id = ?", "cust-1").Error)
	require.Equal(t, "cus_test", profile.CustomerRef)
}

func TestCreateDepositIntentRequiresSignedAgreement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.bookings.Create(ctx, booking.CreateParams{
		CustomerID:         "cust-1",
		ProviderID:         "painter-1",
		Category:           "interior_full",
		ScheduledAt:        time.Now().Add(96 * time.Hour),
		ServiceAddress:     "12 Elm Street",
		TotalAmountCents:   50000,
		DepositAmountCents: 7500,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.Equal(t, ErrAgreementNotSigned, err)
}

func TestCreateDepositIntentDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	_, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)

	_, err = f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.Equal(t, ErrPaymentAlreadyPending, err)
	require.Equal(t, int64(1), f.provider.intents.Load())
}

func TestCreateFinalIntentRequiresSettledDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	_, err := f.svc.CreateFinalIntent(ctx, b.ID, "cust-1", "")
	require.Equal(t, ErrDepositNotPaid, err)
}

func TestDepositReconcileAdvancesBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 49999)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)

	settled, err := f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, settled.Status)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusDepositPaid, reloaded.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)

	first, err := f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, first.Status)

	second, err := f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, second.Status)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusDepositPaid, reloaded.Status)
	require.Empty(t, f.enqueuer.tasks)
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reconcile(context.Background(), "pi_unknown", OutcomeSucceeded)
	require.Equal(t, ErrPaymentNotFound, err)
}

func TestFailedDepositHoldsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)

	settled, err := f.svc.Reconcile(ctx, p.ExternalReference, OutcomeFailed)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, settled.Status)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusAgreementSigned, reloaded.Status)

	// A failed payment is terminal; the customer may open a fresh intent.
	_, err = f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
}

func TestFullPaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 49999)

	deposit, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	require.Equal(t, int64(7500), deposit.AmountCents)

	_, err = f.svc.Reconcile(ctx, deposit.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	final, err := f.svc.CreateFinalIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	require.Equal(t, int64(42499), final.AmountCents)
	require.Equal(t, deposit.AmountCents+final.AmountCents, b.TotalAmountCents)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusFinalPaymentPending, reloaded.Status)

	_, err = f.svc.Reconcile(ctx, final.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	reloaded, err = f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCompleted, reloaded.Status)

	require.Len(t, f.enqueuer.tasks, 1)
	require.Equal(t, "payment:distribute", f.enqueuer.tasks[0].Type())
}

func TestDistributePaysNetOfFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	payout, err := f.svc.Distribute(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), payout.GrossCents)
	require.Equal(t, int64(5000), payout.FeeCents)
	require.Equal(t, int64(45000), payout.NetCents)
	require.Equal(t, "tr_1", payout.TransferReference)

	// Duplicate task delivery reuses the existing payout.
	again, err := f.svc.Distribute(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, payout.ID, again.ID)
	require.Equal(t, int64(1), f.provider.transfers.Load())
}

func TestRefundDepositOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, b.ID, KindDeposit)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusRefunded, reloaded.Status)

	_, err = f.svc.Refund(ctx, b.ID, KindDeposit)
	require.Equal(t, ErrNoRefundablePayment, err)
	require.Equal(t, int64(1), f.provider.refunds.Load())
}

func TestRefundWithoutSucceededPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	_, err := f.svc.Refund(ctx, b.ID, KindDeposit)
	require.Equal(t, ErrNoRefundablePayment, err)

	_, err = f.svc.Refund(ctx, b.ID, Kind("tip"))
	require.Equal(t, ErrInvalidKind, err)
}

func TestConcurrentRefundsMoveMoneyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refund(ctx, b.ID, KindDeposit)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			losses++
			require.Equal(t, ErrNoRefundablePayment, err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, losses)
	require.Equal(t, int64(1), f.provider.refunds.Load())
}

func TestRefundReleasesClaimOnProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	// Fail both client attempts so the provider call exhausts its retries.
	f.provider.failRefunds.Store(2)
	_, err = f.svc.Refund(ctx, b.ID, KindDeposit)
	require.Error(t, err)

	var reloaded Payment
	require.NoError(t, f.svc.db.First(&reloaded, "id = ?", p.ID).Error)
	require.Equal(t, StatusSucceeded, reloaded.Status)

	refunded, err := f.svc.Refund(ctx, b.ID, KindDeposit)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)
	require.Equal(t, int64(1), f.provider.refunds.Load())
}

func TestIntentUniqueIndexBacksDedupCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	// A failed row still holding its slot key models a racing insert that
	// slipped past the dedup count.
	require.NoError(t, f.svc.db.Create(&Payment{
		ID:                "pay-stale",
		Code:              "PAY-STALE",
		BookingID:         b.ID,
		CustomerID:        "cust-1",
		ProviderID:        "painter-1",
		Kind:              KindDeposit,
		AmountCents:       7500,
		Currency:          "usd",
		Status:            StatusFailed,
		ExternalReference: "pi_stale",
		OpenKey:           openKey(b.ID, KindDeposit),
	}).Error)

	_, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.Equal(t, ErrPaymentAlreadyPending, err)
}

func TestFinalIntentRolledBackWhenCancelWinsAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	p, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, p.ExternalReference, OutcomeSucceeded)
	require.NoError(t, err)

	// Cancel the booking while the provider call is in flight, after the
	// deposit-paid precondition has already been read.
	f.provider.onIntent = func() {
		f.provider.onIntent = nil
		_, _ = f.bookings.Cancel(ctx, b.ID, "cust-1")
	}

	_, err = f.svc.CreateFinalIntent(ctx, b.ID, "cust-1", "")
	require.Error(t, err)

	reloaded, err := f.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCancelled, reloaded.Status)

	var count int64
	require.NoError(t, f.svc.db.Model(&Payment{}).
		Where("booking_id = ? AND kind = ?", b.ID, KindFinal).
		Count(&count).Error)
	require.Zero(t, count)
}

func TestListByBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := signedBooking(t, f, 50000)

	_, err := f.svc.CreateDepositIntent(ctx, b.ID, "cust-1", "")
	require.NoError(t, err)

	payments, err := f.svc.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, KindDeposit, payments[0].Kind)
}
