package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/middleware"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/services/booking"
	"painterhub-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const testWebhookSecret = "whsec_test"

func newWebhookFixture(t *testing.T) (*gin.Engine, *WebhookHandler, *stubEnqueuer) {
	t.Helper()

	db := testutil.NewTestDB(t, &WebhookEvent{}, &booking.Booking{})
	enqueuer := &stubEnqueuer{}
	handler := NewWebhookHandler(db, &config.Config{
		Provider: config.ProviderConfig{WebhookSecret: testWebhookSecret},
	}, enqueuer)

	engine := gin.New()
	engine.Use(middleware.Error())
	engine.POST("/v1/webhooks/provider", handler.Handle)
	return engine, handler, enqueuer
}

func intentEventBody(t *testing.T, eventID, eventType, intentID string) []byte {
	t.Helper()

	data, err := json.Marshal(payprovider.IntentEventData{
		ID:     intentID,
		Amount: 7500,
		Status: "succeeded",
	})
	require.NoError(t, err)

	body, err := json.Marshal(payprovider.Event{
		ID:        eventID,
		Type:      eventType,
		CreatedAt: time.Now().Unix(),
		Data:      data,
	})
	require.NoError(t, err)
	return body
}

func postWebhook(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/provider", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signature)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEnqueuesReconcile(t *testing.T) {
	engine, _, enqueuer := newWebhookFixture(t)

	body := intentEventBody(t, "evt-1", payprovider.EventPaymentIntentSucceeded, "pi_1")
	rec := postWebhook(engine, body, payprovider.Sign(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, "payment:reconcile", enqueuer.tasks[0].Type())

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, "pi_1", payload.ExternalReference)
	require.Equal(t, OutcomeSucceeded, payload.Outcome)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	engine, _, enqueuer := newWebhookFixture(t)

	body := intentEventBody(t, "evt-1", payprovider.EventPaymentIntentSucceeded, "pi_1")
	rec := postWebhook(engine, body, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, enqueuer.tasks)
}

func TestWebhookDedupsByEventID(t *testing.T) {
	engine, handler, enqueuer := newWebhookFixture(t)

	body := intentEventBody(t, "evt-dup", payprovider.EventPaymentIntentSucceeded, "pi_1")
	sig := payprovider.Sign(body, testWebhookSecret)

	rec := postWebhook(engine, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(engine, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, enqueuer.tasks, 1)

	var count int64
	require.NoError(t, handler.db.WithContext(context.Background()).
		Model(&WebhookEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

// flakyEnqueuer fails a set number of Enqueue calls before delegating.
type flakyEnqueuer struct {
	stubEnqueuer
	failures int
}

func (e *flakyEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.failures > 0 {
		e.failures--
		return nil, errors.New("queue unavailable")
	}
	return e.stubEnqueuer.Enqueue(task, opts...)
}

func TestWebhookRedeliveryAfterEnqueueFailure(t *testing.T) {
	db := testutil.NewTestDB(t, &WebhookEvent{}, &booking.Booking{})
	enqueuer := &flakyEnqueuer{failures: 1}
	handler := NewWebhookHandler(db, &config.Config{
		Provider: config.ProviderConfig{WebhookSecret: testWebhookSecret},
	}, enqueuer)

	engine := gin.New()
	engine.Use(middleware.Error())
	engine.POST("/v1/webhooks/provider", handler.Handle)

	body := intentEventBody(t, "evt-retry", payprovider.EventPaymentIntentSucceeded, "pi_9")
	sig := payprovider.Sign(body, testWebhookSecret)

	rec := postWebhook(engine, body, sig)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, enqueuer.tasks)

	// The failed delivery must leave no dedup row, or the provider's
	// redelivery would short-circuit and the event would be lost.
	var count int64
	require.NoError(t, db.WithContext(context.Background()).
		Model(&WebhookEvent{}).Count(&count).Error)
	require.Zero(t, count)

	rec = postWebhook(engine, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, "payment:reconcile", enqueuer.tasks[0].Type())
}

func TestWebhookRoutesSubscriptionEvents(t *testing.T) {
	engine, _, enqueuer := newWebhookFixture(t)

	data, err := json.Marshal(payprovider.SubscriptionEventData{
		ID:     "sub_1",
		Status: "active",
	})
	require.NoError(t, err)
	body, err := json.Marshal(payprovider.Event{
		ID:   "evt-sub",
		Type: payprovider.EventSubscriptionUpdated,
		Data: data,
	})
	require.NoError(t, err)

	rec := postWebhook(engine, body, payprovider.Sign(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, "entitlement:sync", enqueuer.tasks[0].Type())
}

func TestWebhookIgnoresUnknownEventTypes(t *testing.T) {
	engine, _, enqueuer := newWebhookFixture(t)

	body, err := json.Marshal(payprovider.Event{ID: "evt-x", Type: "charge.disputed"})
	require.NoError(t, err)

	rec := postWebhook(engine, body, payprovider.Sign(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, enqueuer.tasks)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	engine, _, _ := newWebhookFixture(t)

	body := []byte(`{"type":"payment_intent.succeeded"}`)
	rec := postWebhook(engine, body, payprovider.Sign(body, testWebhookSecret))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
