// Package mpesa implements the Safaricom Daraja STK push flow behind the
// payments.Gateway interface: a basic-auth token exchange cached for its
// validity window, then a bearer-authenticated process request whose
// CheckoutRequestID correlates the eventual callback.
package mpesa

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"tenant-portal-server/payments"

	"github.com/go-resty/resty/v2"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"

	// defaultTokenTTL is used when Daraja's expires_in is absent or
	// unparseable. Tokens are issued for 3599 seconds; the safety margin
	// keeps a nearly expired cached token from being used mid-request.
	defaultTokenTTL = 55 * time.Minute
	tokenTTLMargin  = 60 * time.Second
)

// Config holds the Daraja credentials and endpoints, loaded from the
// environment by the caller.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Client talks to Daraja. It is stateless apart from the shared token cache
// and safe for concurrent use.
type Client struct {
	cfg   Config
	http  *resty.Client
	cache TokenCache
}

func NewClient(cfg Config, cache TokenCache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Client{
		cfg:   cfg,
		http:  resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		cache: cache,
	}
}

// token returns a valid bearer token, exchanging credentials only on a cache
// miss.
func (c *Client) token(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(ctx); ok {
		return token, nil
	}

	var body tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret).
		SetResult(&body).
		Get(tokenPath)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", payments.ErrProviderUnavailable, err)
	}
	if resp.IsError() || body.AccessToken == "" {
		return "", fmt.Errorf("%w: token exchange returned status %d", payments.ErrProviderUnavailable, resp.StatusCode())
	}

	ttl := defaultTokenTTL
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs)*time.Second - tokenTTLMargin
		if ttl <= 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	c.cache.Set(ctx, body.AccessToken, ttl)

	return body.AccessToken, nil
}

// password builds the shortcode password for a given timestamp:
// base64(shortcode + passkey + timestamp).
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

// RequestPayment issues an STK push and returns the correlation identifiers.
// Transport failures, 5xx and auth problems map to ErrProviderUnavailable;
// 4xx responses and non-zero response codes map to ErrProviderRejected.
func (c *Client) RequestPayment(ctx context.Context, req payments.GatewayRequest) (*payments.GatewayResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format(timestampLayout)
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var body stkPushResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(payload).
		SetResult(&body).
		SetError(&apiErr).
		Post(stkPushPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stk push: %v", payments.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode() >= 500:
		return nil, fmt.Errorf("%w: stk push returned status %d", payments.ErrProviderUnavailable, resp.StatusCode())
	case resp.StatusCode() == 401:
		// Token may have been revoked early; treat as transient.
		return nil, fmt.Errorf("%w: stk push unauthorized", payments.ErrProviderUnavailable)
	case resp.IsError():
		return nil, fmt.Errorf("%w: %s (%s)", payments.ErrProviderRejected, apiErr.ErrorMessage, apiErr.ErrorCode)
	case body.ResponseCode != "0":
		return nil, fmt.Errorf("%w: response code %s: %s", payments.ErrProviderRejected, body.ResponseCode, body.ResponseDescription)
	case body.CheckoutRequestID == "":
		return nil, fmt.Errorf("%w: stk push accepted without a CheckoutRequestID", payments.ErrProviderUnavailable)
	}

	return &payments.GatewayResponse{
		CheckoutRequestID: body.CheckoutRequestID,
		MerchantRequestID: body.MerchantRequestID,
	}, nil
}
