package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tenant-portal-server/payments"

	"github.com/stretchr/testify/require"
)

type darajaStub struct {
	tokenCalls int32
	pushCalls  int32

	tokenStatus int
	pushStatus  int
	pushBody    interface{}

	lastPush stkPushRequest
}

func newDarajaStub() *darajaStub {
	return &darajaStub{
		tokenStatus: http.StatusOK,
		pushStatus:  http.StatusOK,
		pushBody: stkPushResponse{
			MerchantRequestID:   "29115-34620561-1",
			CheckoutRequestID:   "ws_CO_191220191020363925",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
		},
	}
}

func (s *darajaStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.tokenStatus)
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-token", ExpiresIn: "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.pushCalls, 1)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s.lastPush))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.pushStatus)
		json.NewEncoder(w).Encode(s.pushBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, stub *darajaStub) *Client {
	t.Helper()
	srv := stub.server(t)
	return NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://portal.example.com/mpesa/callback",
		Timeout:        5 * time.Second,
	}, NewMemoryCache())
}

func paymentRequest() payments.GatewayRequest {
	return payments.GatewayRequest{
		Amount:           5000,
		PhoneNumber:      "254712345678",
		AccountReference: "UNIT-A4",
		Description:      "Rent payment for unit A4",
	}
}

func TestRequestPaymentSuccess(t *testing.T) {
	stub := newDarajaStub()
	client := newTestClient(t, stub)

	resp, err := client.RequestPayment(context.Background(), paymentRequest())
	require.NoError(t, err)
	require.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	require.Equal(t, "29115-34620561-1", resp.MerchantRequestID)

	require.Equal(t, "174379", stub.lastPush.BusinessShortCode)
	require.Equal(t, "CustomerPayBillOnline", stub.lastPush.TransactionType)
	require.Equal(t, int64(5000), stub.lastPush.Amount)
	require.Equal(t, "254712345678", stub.lastPush.PartyA)
	require.Equal(t, "254712345678", stub.lastPush.PhoneNumber)
	require.Equal(t, "https://portal.example.com/mpesa/callback", stub.lastPush.CallBackURL)
	require.Equal(t, "UNIT-A4", stub.lastPush.AccountReference)

	// Password is base64(shortcode + passkey + timestamp).
	decoded, err := base64.StdEncoding.DecodeString(stub.lastPush.Password)
	require.NoError(t, err)
	require.Equal(t, "174379passkey"+stub.lastPush.Timestamp, string(decoded))
}

func TestRequestPaymentReusesCachedToken(t *testing.T) {
	stub := newDarajaStub()
	client := newTestClient(t, stub)
	ctx := context.Background()

	_, err := client.RequestPayment(ctx, paymentRequest())
	require.NoError(t, err)
	_, err = client.RequestPayment(ctx, paymentRequest())
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&stub.tokenCalls), "token exchange should be cached")
	require.EqualValues(t, 2, atomic.LoadInt32(&stub.pushCalls))
}

func TestRequestPaymentTokenExchangeFailure(t *testing.T) {
	stub := newDarajaStub()
	stub.tokenStatus = http.StatusServiceUnavailable
	client := newTestClient(t, stub)

	_, err := client.RequestPayment(context.Background(), paymentRequest())
	require.ErrorIs(t, err, payments.ErrProviderUnavailable)
	require.Zero(t, atomic.LoadInt32(&stub.pushCalls))
}

func TestRequestPaymentServerErrorIsUnavailable(t *testing.T) {
	stub := newDarajaStub()
	stub.pushStatus = http.StatusInternalServerError
	stub.pushBody = apiError{ErrorCode: "500.001.1001", ErrorMessage: "Server busy"}
	client := newTestClient(t, stub)

	_, err := client.RequestPayment(context.Background(), paymentRequest())
	require.ErrorIs(t, err, payments.ErrProviderUnavailable)
}

func TestRequestPaymentBadRequestIsRejected(t *testing.T) {
	stub := newDarajaStub()
	stub.pushStatus = http.StatusBadRequest
	stub.pushBody = apiError{ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid PhoneNumber"}
	client := newTestClient(t, stub)

	_, err := client.RequestPayment(context.Background(), paymentRequest())
	require.ErrorIs(t, err, payments.ErrProviderRejected)
	require.Contains(t, err.Error(), "Invalid PhoneNumber")
}

func TestRequestPaymentNonZeroResponseCodeIsRejected(t *testing.T) {
	stub := newDarajaStub()
	stub.pushBody = stkPushResponse{
		ResponseCode:        "1",
		ResponseDescription: "The service request failed",
	}
	client := newTestClient(t, stub)

	_, err := client.RequestPayment(context.Background(), paymentRequest())
	require.ErrorIs(t, err, payments.ErrProviderRejected)
}

func TestRequestPaymentTransportErrorIsUnavailable(t *testing.T) {
	client := NewClient(Config{
		BaseURL:        "http://127.0.0.1:1", // nothing listens here
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		Timeout:        500 * time.Millisecond,
	}, NewMemoryCache())

	_, err := client.RequestPayment(context.Background(), paymentRequest())
	require.ErrorIs(t, err, payments.ErrProviderUnavailable)
}

func TestCallbackEnvelopeParsing(t *testing.T) {
	payload := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 5000.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`

	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &envelope))

	cb := envelope.Body.StkCallback
	require.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	require.Zero(t, cb.ResultCode)

	items := cb.Items()
	require.Equal(t, "NLJ7RT61SV", items["MpesaReceiptNumber"])
	require.EqualValues(t, 5000, items["Amount"])
}

func TestCallbackEnvelopeWithoutMetadata(t *testing.T) {
	payload := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`

	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &envelope))

	cb := envelope.Body.StkCallback
	require.Equal(t, 1032, cb.ResultCode)
	require.Empty(t, cb.Items())
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx)
	require.False(t, ok)

	cache.Set(ctx, "token-a", 50*time.Millisecond)
	token, ok := cache.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "token-a", token)

	time.Sleep(80 * time.Millisecond)
	_, ok = cache.Get(ctx)
	require.False(t, ok)
}
