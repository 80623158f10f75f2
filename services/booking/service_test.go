package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"painterhub-platform/pkg/db/pagination"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Booking{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Codes: &testutil.StaticCodes{}})
}

func createTestBooking(t *testing.T, svc *Service) *Booking {
	t.Helper()

	b, err := svc.Create(context.Background(), CreateParams{
		CustomerID:         "cust-1",
		ProviderID:         "painter-1",
		Category:           "interior_full",
		ScheduledAt:        time.Now().Add(72 * time.Hour),
		ServiceAddress:     "12 Elm Street",
		ServicePhone:       "555-0101",
		TotalAmountCents:   50000,
		DepositAmountCents: 7500,
	})
	require.NoError(t, err)
	return b
}

func TestCreateBooking(t *testing.T) {
	svc := newTestService(t)

	b := createTestBooking(t, svc)
	require.Equal(t, StatusPendingDeposit, b.Status)
	require.NotEmpty(t, b.ID)
	require.Contains(t, b.Code, "BKG-")
}

func TestCreateBookingRejectsBadAmounts(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), CreateParams{
		CustomerID: "cust-1", ProviderID: "painter-1",
		TotalAmountCents: 10000, DepositAmountCents: 10001,
	})
	require.Equal(t, ErrInvalidAmounts, err)

	_, err = svc.Create(context.Background(), CreateParams{
		CustomerID: "cust-1", ProviderID: "painter-1",
		TotalAmountCents: 0,
	})
	require.Equal(t, ErrInvalidAmounts, err)
}

func TestAdvanceWalksTheLifecycle(t *testing.T) {
	svc := newTestService(t)
	b := createTestBooking(t, svc)
	ctx := context.Background()

	steps := []struct {
		from Status
		to   Status
	}{
		{StatusPendingDeposit, StatusAgreementSigned},
		{StatusAgreementSigned, StatusDepositPaid},
		{StatusDepositPaid, StatusFinalPaymentPending},
		{StatusFinalPaymentPending, StatusCompleted},
	}

	for _, step := range steps {
		got, err := svc.Advance(ctx, b.ID, step.from, step.to)
		require.NoError(t, err)
		require.Equal(t, step.to, got.Status)
	}
}

func TestAdvanceRejectsInvalidJump(t *testing.T) {
	svc := newTestService(t)
	b := createTestBooking(t, svc)

	// pending_deposit cannot jump straight to completed.
	_, err := svc.Advance(context.Background(), b.ID, StatusPendingDeposit, StatusCompleted)
	require.Equal(t, ErrInvalidTransition, err)
}

func TestAdvanceRejectsStaleExpectation(t *testing.T) {
	svc := newTestService(t)
	b := createTestBooking(t, svc)
	ctx := context.Background()

	_, err := svc.Advance(ctx, b.ID, StatusPendingDeposit, StatusAgreementSigned)
	require.NoError(t, err)

	// A second caller still believing the booking is pending loses.
	_, err = svc.Advance(ctx, b.ID, StatusPendingDeposit, StatusAgreementSigned)
	require.Equal(t, ErrInvalidTransition, err)
}

func TestAdvanceUnknownBooking(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Advance(context.Background(), "missing", StatusPendingDeposit, StatusAgreementSigned)
	require.Equal(t, ErrNotFound, err)
}

func TestCancelFromPreTerminalStates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := createTestBooking(t, svc)
	got, err := svc.Cancel(ctx, b.ID, "cust-1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	// Terminal states are frozen.
	_, err = svc.Cancel(ctx, b.ID, "cust-1")
	require.Equal(t, ErrInvalidTransition, err)
}

func TestCancelRequiresParticipant(t *testing.T) {
	svc := newTestService(t)
	b := createTestBooking(t, svc)

	_, err := svc.Cancel(context.Background(), b.ID, "stranger")
	require.Equal(t, ErrNotParticipant, err)
}

func TestMarkRefunded(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	b := createTestBooking(t, svc)
	_, err := svc.Advance(ctx, b.ID, StatusPendingDeposit, StatusAgreementSigned)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, b.ID, StatusAgreementSigned, StatusDepositPaid)
	require.NoError(t, err)

	got, err := svc.MarkRefunded(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, got.Status)

	_, err = svc.MarkRefunded(ctx, b.ID)
	require.Equal(t, ErrInvalidTransition, err)
}

func TestErrorsCarryConflictStatus(t *testing.T) {
	var be errutil.BaseError
	require.True(t, errors.As(ErrInvalidTransition, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestListForActorPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, CreateParams{
			CustomerID:         "cust-1",
			ProviderID:         "painter-1",
			Category:           "interior_full",
			ScheduledAt:        time.Now().Add(72 * time.Hour),
			ServiceAddress:     "12 Elm Street",
			TotalAmountCents:   50000,
			DepositAmountCents: 7500,
		})
		require.NoError(t, err)
	}

	first, info, err := svc.ListForActor(ctx, "cust-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	second, info, err := svc.ListForActor(ctx, "cust-1", pagination.Pagination{Limit: 3, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, second, 3)
	require.False(t, info.HasMore)
	require.NotEqual(t, first[len(first)-1].ID, second[0].ID)

	none, _, err := svc.ListForActor(ctx, "stranger", pagination.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, none)

	_, _, err = svc.ListForActor(ctx, "cust-1", pagination.Pagination{Cursor: "not-base64!"})
	require.Error(t, err)
}
