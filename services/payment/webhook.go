package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/pkg/task"
	"painterhub-platform/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const signatureHeader = "X-Provider-Signature"

var errDuplicateDelivery = errors.New("webhook event already recorded")

// WebhookHandler terminates the provider's asynchronous event feed. It
// verifies the signature, records the event for dedup, and hands the work
// to the queue so the HTTP response stays fast and the retry policy lives
// in one place.
type WebhookHandler struct {
	db       *gorm.DB
	secret   string
	enqueuer task.Enqueuer
}

func NewWebhookHandler(db *gorm.DB, cfg *config.Config, enqueuer task.Enqueuer) *WebhookHandler {
	return &WebhookHandler{
		db:       db,
		secret:   cfg.Provider.WebhookSecret,
		enqueuer: enqueuer,
	}
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(errutil.BadRequest("failed to read webhook body", err))
		return
	}

	if !payprovider.VerifySignature(body, c.GetHeader(signatureHeader), h.secret) {
		_ = c.Error(errutil.Unauthorized("webhook signature verification failed", nil))
		return
	}

	ev, err := payprovider.ParseEvent(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	record := &WebhookEvent{
		ID:         ev.ID,
		Type:       ev.Type,
		ReceivedAt: time.Now().UTC(),
	}
	// The dedup row and the dispatch commit together: a failed enqueue rolls
	// the row back, so the provider's redelivery gets a clean retry instead
	// of a duplicate short-circuit.
	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			if isUniqueViolation(err) {
				return errDuplicateDelivery
			}
			return errutil.Internal("failed to record webhook event", err)
		}
		return h.dispatch(ev, body)
	})
	if errors.Is(err, errDuplicateDelivery) {
		// At-least-once delivery: the first copy owns the work.
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := time.Now().UTC()
	if err := h.db.WithContext(c.Request.Context()).Model(&WebhookEvent{}).
		Where("id = ?", ev.ID).
		Update("processed_at", &now).Error; err != nil {
		zap.L().Warn("failed to mark webhook event processed", zap.String("event_id", ev.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) dispatch(ev *payprovider.Event, body []byte) error {
	switch ev.Type {
	case payprovider.EventPaymentIntentSucceeded, payprovider.EventPaymentIntentFailed:
		data, err := ev.Intent()
		if err != nil {
			return err
		}

		outcome := OutcomeSucceeded
		if ev.Type == payprovider.EventPaymentIntentFailed {
			outcome = OutcomeFailed
		}

		payload, err := json.Marshal(ReconcilePayload{
			ExternalReference: data.ID,
			Outcome:           outcome,
		})
		if err != nil {
			return errutil.Internal("failed to encode reconcile payload", err)
		}

		_, err = h.enqueuer.Enqueue(
			asynq.NewTask(taskname.PaymentReconcile, payload),
			asynq.Queue("critical"),
			asynq.MaxRetry(5),
		)
		if err != nil {
			return errutil.Internal("failed to enqueue reconcile task", err)
		}

	case payprovider.EventSubscriptionCreated,
		payprovider.EventSubscriptionUpdated,
		payprovider.EventSubscriptionDeleted,
		payprovider.EventInvoicePaymentSucceeded,
		payprovider.EventInvoicePaymentFailed:
		payload, err := json.Marshal(SyncPayload{Event: body})
		if err != nil {
			return errutil.Internal("failed to encode sync payload", err)
		}

		_, err = h.enqueuer.Enqueue(
			asynq.NewTask(taskname.EntitlementSync, payload),
			asynq.Queue("default"),
			asynq.MaxRetry(5),
		)
		if err != nil {
			return errutil.Internal("failed to enqueue entitlement sync task", err)
		}

	default:
		zap.L().Info("ignoring unhandled provider event", zap.String("event_type", ev.Type))
	}

	return nil
}
