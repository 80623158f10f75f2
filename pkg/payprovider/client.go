package payprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/errutil"
	"painterhub-platform/pkg/retry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payprovider",
	fx.Provide(NewClient),
)

// Client talks to the payment provider's REST API. It is constructed once
// and injected into every component that needs it; there is no package-level
// client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	policy     retry.Policy
}

type Params struct {
	fx.In
	Config *config.Config
}

func NewClient(p Params) *Client {
	timeout := p.Config.Provider.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    p.Config.Provider.BaseURL,
		apiKey:     p.Config.Provider.APIKey,
		policy: retry.Policy{
			MaxAttempts: p.Config.Provider.MaxAttempts,
			Delay:       p.Config.Provider.RetryDelay,
		},
	}
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Intent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type Refund struct {
	ID     string `json:"id"`
	Intent string `json:"intent"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

type Subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	TrialEnd int64  `json:"trial_end"`
}

func (c *Client) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error) {
	var out Customer
	err := c.do(ctx, http.MethodPost, "/v1/customers", map[string]interface{}{
		"email":    email,
		"metadata": metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, customerRef string, metadata map[string]string) (*Intent, error) {
	var out Intent
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"customer": customerRef,
		"metadata": metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CaptureIntent(ctx context.Context, intentID string) (*Intent, error) {
	var out Intent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/payment_intents/%s/capture", intentID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateRefund(ctx context.Context, intentID string, amount int64) (*Refund, error) {
	var out Refund
	err := c.do(ctx, http.MethodPost, "/v1/refunds", map[string]interface{}{
		"intent": intentID,
		"amount": amount,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTransfer(ctx context.Context, amount int64, currency, destination string, metadata map[string]string) (*Transfer, error) {
	var out Transfer
	err := c.do(ctx, http.MethodPost, "/v1/transfers", map[string]interface{}{
		"amount":      amount,
		"currency":    currency,
		"destination": destination,
		"metadata":    metadata,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateSubscription(ctx context.Context, customerRef, plan string, trialDays int) (*Subscription, error) {
	var out Subscription
	err := c.do(ctx, http.MethodPost, "/v1/subscriptions", map[string]interface{}{
		"customer":   customerRef,
		"plan":       plan,
		"trial_days": trialDays,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var out Subscription
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/subscriptions/%s", subscriptionID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs one provider call under the retry policy. A timeout is an unknown
// outcome; it surfaces as a retriable error and leaves reconciliation to the
// webhook feed, never as a success.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		var be errutil.BaseError
		if errors.As(err, &be) && !be.Code.Retriable() {
			return retry.Permanent(err)
		}

		zap.L().Warn("provider call failed, will retry within budget",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errutil.Internal("failed to marshal provider request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errutil.Internal("failed to build provider request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return errutil.Timeout("provider call timed out, outcome unknown", err)
		}
		return errutil.Timeout("provider unreachable, outcome unknown", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errutil.BadGateway("malformed provider response", err)
		}
		return nil
	case resp.StatusCode >= 500:
		return errutil.BadGateway(fmt.Sprintf("provider returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errutil.BadGateway("provider rate limited the request", nil)
	default:
		return errutil.BadRequest(fmt.Sprintf("provider rejected the request with %d", resp.StatusCode), nil)
	}
}
