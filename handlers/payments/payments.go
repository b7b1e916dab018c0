package payments

import (
	"errors"
	"net/http"
	"strconv"

	"tenant-portal-server/models"
	"tenant-portal-server/mpesa"
	"tenant-portal-server/payments"
	"tenant-portal-server/repositories"
	"tenant-portal-server/requests"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the payment endpoints. The service and logger are injected
// rather than read from package globals so the handler can be wired against
// fakes in tests.
type Handler struct {
	svc                 *payments.Service
	stripeWebhookSecret string
	log                 *zap.SugaredLogger
}

func NewHandler(svc *payments.Service, stripeWebhookSecret string, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, stripeWebhookSecret: stripeWebhookSecret, log: log}
}

// InitiateMpesaPayment starts an STK push for the authenticated tenant.
func (h *Handler) InitiateMpesaPayment(c *gin.Context) {
	h.initiate(c, models.ProviderMpesa)
}

// InitiateCardPayment starts a Stripe card payment. The response includes
// the client secret the portal UI needs to confirm the intent.
func (h *Handler) InitiateCardPayment(c *gin.Context) {
	h.initiate(c, models.ProviderStripe)
}

func (h *Handler) initiate(c *gin.Context, provider string) {
	req, err := requests.ValidateInitiatePayment(c)
	if err != nil {
		var vErr requests.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "fields": vErr.Errors})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.svc.Initiate(c.Request.Context(), payments.InitiateRequest{
		TenantID:        req.TenantID,
		UnitID:          req.UnitID,
		BillingPeriodID: req.BillingPeriodID,
		PhoneNumber:     req.PhoneNumber,
		Amount:          req.Amount,
		Provider:        provider,
	})
	switch {
	case errors.Is(err, payments.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case errors.Is(err, payments.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "Payment provider is unavailable, please try again shortly",
			"retryable": true,
		})
		return
	case errors.Is(err, payments.ErrProviderRejected):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Payment provider rejected the request",
			"retryable": false,
		})
		return
	case err != nil:
		h.log.Errorw("initiate payment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initiate payment"})
		return
	}

	resp := gin.H{
		"success":    true,
		"message":    "Payment request sent",
		"payment_id": result.PaymentID,
	}
	if result.ClientSecret != "" {
		resp["client_secret"] = result.ClientSecret
	}
	c.JSON(http.StatusOK, resp)
}

// MpesaCallback receives the asynchronous STK result from Daraja. Whatever
// happens internally the provider gets a 200: it has no way to act on a
// business error, and a non-200 would only make it redeliver a callback that
// was already understood.
func (h *Handler) MpesaCallback(c *gin.Context) {
	var envelope mpesa.CallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		h.log.Warnw("unparseable mpesa callback", "error", err)
		acknowledge(c)
		return
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		h.log.Warnw("mpesa callback without CheckoutRequestID")
		acknowledge(c)
		return
	}

	outcome, err := h.svc.Reconcile(c.Request.Context(), payments.ReconcileInput{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
		Metadata:          cb.Items(),
	})
	if err != nil {
		// Store failure. Still acknowledged; the record stays pending
		// and a redelivery or the sweeper gets another chance.
		h.log.Errorw("mpesa callback reconciliation failed",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err)
	} else {
		h.log.Infow("mpesa callback processed",
			"checkout_request_id", cb.CheckoutRequestID,
			"outcome", outcome)
	}

	acknowledge(c)
}

// acknowledge replies in the shape Daraja expects from a callback endpoint.
func acknowledge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// GetPayment is the status poll used by the portal UI while it waits for the
// STK prompt to resolve.
func (h *Handler) GetPayment(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment id"})
		return
	}

	payment, err := h.svc.GetPayment(c.Request.Context(), tenantID, uint(id))
	if errors.Is(err, repositories.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	if err != nil {
		h.log.Errorw("get payment", "payment_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// GetReceipt returns the receipt for one of the tenant's payments.
func (h *Handler) GetReceipt(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment id"})
		return
	}

	receipt, err := h.svc.GetReceipt(c.Request.Context(), tenantID, uint(id))
	if errors.Is(err, repositories.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}
	if err != nil {
		h.log.Errorw("get receipt", "payment_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch receipt"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// ListReceipts returns all of the tenant's receipts, newest first.
func (h *Handler) ListReceipts(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	receipts, err := h.svc.ListReceipts(c.Request.Context(), tenantID)
	if err != nil {
		h.log.Errorw("list receipts", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch receipts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}
