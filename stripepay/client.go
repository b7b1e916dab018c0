// Package stripepay adapts Stripe card payments to the payments.Gateway
// seam. The PaymentIntent ID doubles as the correlation token: the webhook
// delivers it back the same way Daraja echoes a CheckoutRequestID.
package stripepay

import (
	"context"
	"errors"
	"fmt"

	"tenant-portal-server/payments"

	stripe "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
)

// Config holds the Stripe credentials, loaded from the environment by the
// caller.
type Config struct {
	SecretKey     string
	Currency      string
	WebhookSecret string
}

type Client struct {
	cfg Config
	api *client.API
}

func NewClient(cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "kes"
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Client{cfg: cfg, api: api}
}

// WebhookSecret exposes the endpoint secret for signature verification in
// the webhook handler.
func (c *Client) WebhookSecret() string {
	return c.cfg.WebhookSecret
}

// RequestPayment creates a PaymentIntent for the requested amount. The
// caller-facing client secret is returned so the portal UI can confirm the
// payment; settlement still arrives asynchronously through the webhook.
func (c *Client) RequestPayment(ctx context.Context, req payments.GatewayRequest) (*payments.GatewayResponse, error) {
	params := &stripe.PaymentIntentParams{
		Params:      stripe.Params{Context: ctx},
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(c.cfg.Currency),
		Description: stripe.String(req.Description),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
	}
	params.AddMetadata("account_reference", req.AccountReference)
	params.AddMetadata("phone_number", req.PhoneNumber)

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(err)
	}

	return &payments.GatewayResponse{
		CheckoutRequestID: pi.ID,
		ClientSecret:      pi.ClientSecret,
	}, nil
}

// classify maps Stripe errors onto the gateway taxonomy. Request problems
// are terminal; everything transport- or platform-shaped is retryable.
func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%w: %s", payments.ErrProviderRejected, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", payments.ErrProviderUnavailable, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", payments.ErrProviderUnavailable, err)
}
