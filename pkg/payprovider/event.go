package payprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"painterhub-platform/pkg/errutil"
)

// Event is one entry of the provider's asynchronous feed. Delivery is
// at-least-once; consumers must dedup by ID.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
)

// IntentEventData is the payload of payment_intent.* events.
type IntentEventData struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// SubscriptionEventData is the payload of subscription.* and invoice.* events.
type SubscriptionEventData struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// ParseEvent decodes and schema-validates a webhook body. Missing or
// malformed fields are a decode error at the boundary.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errutil.BadRequest("malformed webhook payload", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errutil.BadRequest("webhook payload missing id or type", nil)
	}
	return &ev, nil
}

func (e *Event) Intent() (*IntentEventData, error) {
	var data IntentEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, errutil.BadRequest("malformed intent event data", err)
	}
	if data.ID == "" {
		return nil, errutil.BadRequest("intent event missing reference", nil)
	}
	return &data, nil
}

func (e *Event) Subscription() (*SubscriptionEventData, error) {
	var data SubscriptionEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, errutil.BadRequest("malformed subscription event data", err)
	}
	if data.ID == "" {
		return nil, errutil.BadRequest("subscription event missing reference", nil)
	}
	return &data, nil
}

// Sign computes the webhook signature for a body. Exposed so tests and the
// verification path share one implementation.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
