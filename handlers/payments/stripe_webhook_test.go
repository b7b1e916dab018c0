package payments

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tenant-portal-server/models"
	"tenant-portal-server/repositories"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"
)

func signedStripeRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	now := time.Now()
	signature := webhook.ComputeSignature(now, []byte(payload), "whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature)))
	return req
}

func newStripePendingPayment(t *testing.T, s *testServer, intentID string) uint {
	t.Helper()
	repo := repositories.NewPaymentRepository(s.db)
	payment := &models.Payment{
		TenantID:        "tenant-1",
		UnitID:          "A4",
		BillingPeriodID: "2024-01",
		PhoneNumber:     "254712345678",
		Provider:        models.ProviderStripe,
		Amount:          5000,
		Status:          models.PaymentStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	linked, err := repo.AssignCheckoutRequestID(context.Background(), payment.ID, intentID, "")
	require.NoError(t, err)
	require.True(t, linked)
	return payment.ID
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhookCompletesPayment(t *testing.T) {
	s := newTestServer(t)
	paymentID := newStripePendingPayment(t, s, "pi_3OaQ9xTest")

	payload := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1704110400,
		"data": {
			"object": {
				"id": "pi_3OaQ9xTest",
				"amount_received": 5000,
				"latest_charge": {"id": "ch_3OaQ9xTest"}
			}
		}
	}`

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, signedStripeRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)

	var payment models.Payment
	require.NoError(t, s.db.First(&payment, paymentID).Error)
	require.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.Equal(t, "ch_3OaQ9xTest", payment.MpesaReceiptNumber)
	require.Equal(t, int64(5000), payment.SettledAmount)

	var receiptCount int64
	require.NoError(t, s.db.Model(&models.Receipt{}).Where("payment_id = ?", paymentID).Count(&receiptCount).Error)
	require.EqualValues(t, 1, receiptCount)
}

func TestStripeWebhookFailedIntent(t *testing.T) {
	s := newTestServer(t)
	paymentID := newStripePendingPayment(t, s, "pi_3OaFailTest")

	payload := `{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"created": 1704110400,
		"data": {
			"object": {
				"id": "pi_3OaFailTest",
				"last_payment_error": {"code": "card_declined"}
			}
		}
	}`

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, signedStripeRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)

	var payment models.Payment
	require.NoError(t, s.db.First(&payment, paymentID).Error)
	require.Equal(t, models.PaymentStatusFailed, payment.Status)
	require.Equal(t, "card_declined", payment.ResultDescription)

	var receiptCount int64
	require.NoError(t, s.db.Model(&models.Receipt{}).Where("payment_id = ?", paymentID).Count(&receiptCount).Error)
	require.Zero(t, receiptCount)
}

func TestStripeWebhookUnknownIntentAcknowledged(t *testing.T) {
	s := newTestServer(t)

	payload := `{
		"id": "evt_3",
		"type": "payment_intent.succeeded",
		"created": 1704110400,
		"data": {
			"object": {"id": "pi_unknown", "amount_received": 100}
		}
	}`

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, signedStripeRequest(t, payload))
	require.Equal(t, http.StatusOK, w.Code)
}
