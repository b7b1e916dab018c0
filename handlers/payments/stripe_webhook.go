package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	pay "tenant-portal-server/payments"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

const maxWebhookBodyBytes = int64(65536)

// stripeFailureCode is the synthetic result code recorded for failed card
// payments; Stripe reports failures by event type, not numeric code.
const stripeFailureCode = 1

// StripeWebhook reconciles card payments from Stripe events. Unlike the
// M-Pesa callback, a bad signature is answered with 400 so a misconfigured
// endpoint is caught early; verified events are always acknowledged.
func (h *Handler) StripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	// Dashboard-configured endpoints may deliver events on an older API
	// version than the one this client library pins.
	event, err := webhook.ConstructEventWithOptions(payload, c.Request.Header.Get("Stripe-Signature"), h.stripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warnw("stripe webhook signature verification failed", "error", err)
		c.Writer.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			h.log.Warnw("unparseable stripe event payload", "event_id", event.ID, "error", err)
			break
		}
		h.reconcileStripeIntent(c, event, &intent)
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) reconcileStripeIntent(c *gin.Context, event stripe.Event, intent *stripe.PaymentIntent) {
	in := pay.ReconcileInput{CheckoutRequestID: intent.ID}

	if event.Type == "payment_intent.succeeded" {
		receiptRef := intent.ID
		if intent.LatestCharge != nil {
			receiptRef = intent.LatestCharge.ID
		}
		in.Metadata = map[string]interface{}{
			pay.MetadataAmount:          intent.AmountReceived,
			pay.MetadataReceiptNumber:   receiptRef,
			pay.MetadataTransactionDate: time.Unix(event.Created, 0).UTC().Format("20060102150405"),
		}
	} else {
		in.ResultCode = stripeFailureCode
		in.ResultDescription = "card payment failed"
		if intent.LastPaymentError != nil {
			in.ResultDescription = string(intent.LastPaymentError.Code)
		}
	}

	outcome, err := h.svc.Reconcile(c.Request.Context(), in)
	if err != nil {
		h.log.Errorw("stripe webhook reconciliation failed", "payment_intent", intent.ID, "error", err)
		return
	}
	h.log.Infow("stripe webhook processed", "payment_intent", intent.ID, "outcome", outcome)
}
