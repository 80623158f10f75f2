package payment

import (
	"context"
	"encoding/json"
	"errors"

	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/payprovider"
	"painterhub-platform/pkg/taskname"
	"painterhub-platform/services/entitlement"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Tasks registers the worker-side handlers for the asynchronous half of the
// orchestrator: reconciliation, payout distribution and entitlement sync.
var Tasks = fx.Module("payment.tasks",
	fx.Invoke(registerTaskHandlers),
)

type ReconcilePayload struct {
	ExternalReference string  `json:"external_reference"`
	Outcome           Outcome `json:"outcome"`
}

type DistributePayload struct {
	BookingID string `json:"booking_id"`
}

type SyncPayload struct {
	Event json.RawMessage `json:"event"`
}

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service, entitlements *entitlement.Service) {
	mux.HandleFunc(taskname.PaymentReconcile, func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("malformed reconcile payload", zap.Error(err))
			return nil // unparseable, retrying cannot help
		}

		_, err := svc.Reconcile(ctx, payload.ExternalReference, payload.Outcome)
		return dropPermanent(err)
	})

	mux.HandleFunc(taskname.PaymentDistribute, func(ctx context.Context, t *asynq.Task) error {
		var payload DistributePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("malformed distribute payload", zap.Error(err))
			return nil
		}

		_, err := svc.Distribute(ctx, payload.BookingID)
		return dropPermanent(err)
	})

	mux.HandleFunc(taskname.EntitlementSync, func(ctx context.Context, t *asynq.Task) error {
		var payload SyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("malformed entitlement sync payload", zap.Error(err))
			return nil
		}

		ev, err := payprovider.ParseEvent(payload.Event)
		if err != nil {
			zap.L().Error("malformed provider event in sync task", zap.Error(err))
			return nil
		}

		return dropPermanent(entitlements.ApplySubscriptionEvent(ctx, ev))
	})
}

// dropPermanent keeps asynq from retrying errors a retry cannot fix. Only
// retriable provider failures and internal errors go back to the queue.
func dropPermanent(err error) error {
	if err == nil {
		return nil
	}

	var be errutil.BaseError
	if errors.As(err, &be) && !be.Code.Retriable() && be.Code != errutil.StatusInternal {
		zap.L().Warn("task outcome not retriable, dropping", zap.Error(err))
		return nil
	}
	return err
}
