package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenant-portal-server/models"
	"tenant-portal-server/repositories"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Callback metadata item names, as delivered by Daraja in
// Body.stkCallback.CallbackMetadata.Item. Adapters for other providers map
// their payloads onto the same keys.
const (
	MetadataAmount          = "Amount"
	MetadataReceiptNumber   = "MpesaReceiptNumber"
	MetadataTransactionDate = "TransactionDate"
)

// transactionDateLayout is Daraja's numeric timestamp format,
// e.g. 20240101120000.
const transactionDateLayout = "20060102150405"

// Service owns the payment lifecycle: it initiates requests against a
// gateway, reconciles the provider's asynchronous callbacks, and derives
// receipts. All state lives in the database; the service itself is stateless
// and safe to run in any number of processes.
type Service struct {
	payments *repositories.PaymentRepository
	receipts *repositories.ReceiptRepository
	gateways map[string]Gateway
	log      *zap.SugaredLogger
}

func NewService(payments *repositories.PaymentRepository, receipts *repositories.ReceiptRepository, gateways map[string]Gateway, log *zap.SugaredLogger) *Service {
	return &Service{
		payments: payments,
		receipts: receipts,
		gateways: gateways,
		log:      log,
	}
}

// InitiateRequest is the caller-facing initiation input.
type InitiateRequest struct {
	TenantID        string
	UnitID          string
	BillingPeriodID string
	PhoneNumber     string
	Amount          int64
	Provider        string
}

// InitiateResult reports the created payment and, for client-completed
// providers, the secret the client needs to finish the flow.
type InitiateResult struct {
	PaymentID    uint
	ClientSecret string
}

// Initiate validates the request, creates a pending payment record and asks
// the gateway to start the payment. The correlation token returned by the
// gateway is linked to the record before returning.
//
// On ErrProviderUnavailable the pending record is left in place without a
// token; it can never be reconciled and a caller retry creates a new record.
// On ErrProviderRejected the record is transitioned to failed right away.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Provider == "" {
		req.Provider = models.ProviderMpesa
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	gateway, ok := s.gateways[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrValidation, req.Provider)
	}

	payment := &models.Payment{
		TenantID:        req.TenantID,
		UnitID:          req.UnitID,
		BillingPeriodID: req.BillingPeriodID,
		PhoneNumber:     req.PhoneNumber,
		Provider:        req.Provider,
		Amount:          req.Amount,
		Status:          models.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	resp, err := gateway.RequestPayment(ctx, GatewayRequest{
		Amount:           req.Amount,
		PhoneNumber:      req.PhoneNumber,
		AccountReference: "UNIT-" + req.UnitID,
		Description:      "Rent payment for unit " + req.UnitID,
	})
	if err != nil {
		return nil, s.handleGatewayError(ctx, payment, err)
	}

	linked, err := s.payments.AssignCheckoutRequestID(ctx, payment.ID, resp.CheckoutRequestID, resp.MerchantRequestID)
	if err != nil {
		return nil, fmt.Errorf("link checkout request: %w", err)
	}
	if !linked {
		// Only possible if the same row got a token already, which a
		// fresh record cannot. Logged in case the impossible happens.
		s.log.Errorw("checkout request id already linked", "payment_id", payment.ID)
	}

	s.log.Infow("payment initiated",
		"payment_id", payment.ID,
		"provider", req.Provider,
		"checkout_request_id", resp.CheckoutRequestID,
		"amount", req.Amount)

	return &InitiateResult{PaymentID: payment.ID, ClientSecret: resp.ClientSecret}, nil
}

func (s *Service) validate(req InitiateRequest) error {
	switch {
	case req.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	case req.UnitID == "":
		return fmt.Errorf("%w: unit_id is required", ErrValidation)
	case req.BillingPeriodID == "":
		return fmt.Errorf("%w: billing_period_id is required", ErrValidation)
	case req.PhoneNumber == "":
		return fmt.Errorf("%w: phone_number is required", ErrValidation)
	case req.Amount <= 0:
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	return nil
}

func (s *Service) handleGatewayError(ctx context.Context, payment *models.Payment, err error) error {
	if errors.Is(err, ErrProviderRejected) {
		if _, failErr := s.payments.MarkFailed(ctx, payment.ID, -1, "rejected by provider: "+err.Error()); failErr != nil {
			s.log.Errorw("failed to mark rejected payment", "payment_id", payment.ID, "error", failErr)
		}
		s.log.Warnw("payment rejected by provider", "payment_id", payment.ID, "error", err)
		return err
	}

	// Transport, timeout and auth problems all land here. The pending
	// record stays behind without a token; the sweeper expires it later.
	s.log.Warnw("payment provider unavailable", "payment_id", payment.ID, "error", err)
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// ReconcileInput is a provider callback translated to neutral form by the
// HTTP layer. Metadata values are loosely typed, exactly as delivered.
type ReconcileInput struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDescription string
	Metadata          map[string]interface{}
}

// Outcome describes what Reconcile did with a callback. Every outcome is
// acknowledged to the provider the same way; outcomes exist for logging and
// tests.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnknownToken   Outcome = "unknown_token"
	OutcomeReceiptPending Outcome = "completed_receipt_pending"
)

// Reconcile applies a provider callback to the payment it correlates with.
// It is reentrant and safe to call concurrently for the same token: the
// terminal status of the row is the single source of truth for "already
// handled", enforced by the conditional update in the repository. Reconcile
// only returns an error on infrastructure failure (the store is down); every
// business-level oddity is absorbed and logged so the caller can always
// acknowledge the provider.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (Outcome, error) {
	payment, err := s.payments.GetByCheckoutRequestID(ctx, in.CheckoutRequestID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Warnw("callback for unknown checkout request",
			"checkout_request_id", in.CheckoutRequestID,
			"result_code", in.ResultCode)
		return OutcomeUnknownToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("look up payment: %w", err)
	}

	if payment.Terminal() {
		s.log.Debugw("duplicate callback ignored",
			"payment_id", payment.ID,
			"status", payment.Status,
			"checkout_request_id", in.CheckoutRequestID)
		return OutcomeDuplicate, nil
	}

	if in.ResultCode != 0 {
		return s.reconcileFailure(ctx, payment, in)
	}
	return s.reconcileSuccess(ctx, payment, in)
}

func (s *Service) reconcileSuccess(ctx context.Context, payment *models.Payment, in ReconcileInput) (Outcome, error) {
	settlement := parseSettlement(payment, in.Metadata)

	won, err := s.payments.MarkCompleted(ctx, payment.ID, settlement)
	if err != nil {
		return "", fmt.Errorf("complete payment %d: %w", payment.ID, err)
	}
	if !won {
		// Lost the race against a concurrent delivery of the same
		// callback. The winner owns the receipt.
		s.log.Debugw("duplicate callback lost completion race", "payment_id", payment.ID)
		return OutcomeDuplicate, nil
	}

	s.log.Infow("payment completed",
		"payment_id", payment.ID,
		"mpesa_receipt_number", settlement.ReceiptNumber,
		"settled_amount", settlement.Amount)

	if err := s.generateReceipt(ctx, payment, settlement); err != nil {
		// The money has moved; completion is never rolled back. The
		// sweeper retries receipt creation out of band.
		s.log.Errorw("receipt persistence failed, flagged for repair",
			"payment_id", payment.ID,
			"error", err)
		return OutcomeReceiptPending, nil
	}
	return OutcomeCompleted, nil
}

func (s *Service) reconcileFailure(ctx context.Context, payment *models.Payment, in ReconcileInput) (Outcome, error) {
	won, err := s.payments.MarkFailed(ctx, payment.ID, in.ResultCode, in.ResultDescription)
	if err != nil {
		return "", fmt.Errorf("fail payment %d: %w", payment.ID, err)
	}
	if !won {
		s.log.Debugw("duplicate failure callback ignored", "payment_id", payment.ID)
		return OutcomeDuplicate, nil
	}
	s.log.Infow("payment failed",
		"payment_id", payment.ID,
		"result_code", in.ResultCode,
		"result_description", in.ResultDescription)
	return OutcomeFailed, nil
}

// parseSettlement extracts the settled amount, provider receipt reference and
// transaction timestamp from the loosely typed callback metadata. Missing
// values fall back to the requested amount and a nil timestamp; the provider
// confirmation wins whenever present.
func parseSettlement(payment *models.Payment, metadata map[string]interface{}) repositories.Settlement {
	settlement := repositories.Settlement{Amount: payment.Amount}

	if v, ok := metadata[MetadataAmount]; ok {
		if amount := cast.ToInt64(v); amount > 0 {
			settlement.Amount = amount
		}
	}
	if v, ok := metadata[MetadataReceiptNumber]; ok {
		settlement.ReceiptNumber = cast.ToString(v)
	}
	if v, ok := metadata[MetadataTransactionDate]; ok {
		raw := cast.ToString(v)
		if ts, err := time.ParseInLocation(transactionDateLayout, raw, time.UTC); err == nil {
			settlement.TransactionDate = &ts
		}
	}
	return settlement
}

// GetPayment returns a payment scoped to a tenant, for the UI status poll.
func (s *Service) GetPayment(ctx context.Context, tenantID string, id uint) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	return payment, nil
}

// GetReceipt returns the receipt for a tenant's payment, if it exists yet.
func (s *Service) GetReceipt(ctx context.Context, tenantID string, paymentID uint) (*models.Receipt, error) {
	if _, err := s.GetPayment(ctx, tenantID, paymentID); err != nil {
		return nil, err
	}
	return s.receipts.GetByPaymentID(ctx, paymentID)
}

// ListReceipts returns all of a tenant's receipts, newest first.
func (s *Service) ListReceipts(ctx context.Context, tenantID string) ([]models.Receipt, error) {
	return s.receipts.ListByTenant(ctx, tenantID)
}
