package payments

import "context"

// GatewayRequest is the provider-agnostic pay request. Amount is in the
// smallest currency unit. AccountReference and Description surface on the
// payer's side (STK prompt, card statement).
type GatewayRequest struct {
	Amount           int64
	PhoneNumber      string
	AccountReference string
	Description      string
}

// GatewayResponse is the provider's acknowledgment that a payment attempt is
// in flight. CheckoutRequestID is the correlation token the provider will
// echo back in its asynchronous callback. ClientSecret is only set by
// providers that finish the payment on the client (Stripe).
type GatewayResponse struct {
	CheckoutRequestID string
	MerchantRequestID string
	ClientSecret      string
}

// Gateway is the narrow seam to an external payment provider. RequestPayment
// must classify failures as ErrProviderUnavailable (retryable) or
// ErrProviderRejected (terminal); any other error is treated as unavailable
// by the service.
type Gateway interface {
	RequestPayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
}
