package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment statuses. A payment starts out pending and moves to exactly one of
// the terminal states; terminal rows are never written again.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Supported payment providers.
const (
	ProviderMpesa  = "mpesa"
	ProviderStripe = "stripe"
)

// Payment is a single payment attempt by a tenant against a billing period.
//
// CheckoutRequestID is the provider-issued correlation token: NULL until the
// gateway accepts the request, then set exactly once and never reassigned.
// The asynchronous provider callback is matched back to the row through it.
// Amounts are in the smallest currency unit.
type Payment struct {
	gorm.Model
	TenantID        string `gorm:"not null;index" json:"tenant_id"`
	UnitID          string `gorm:"not null" json:"unit_id"`
	BillingPeriodID string `gorm:"not null" json:"billing_period_id"`
	PhoneNumber     string `gorm:"not null" json:"phone_number"`
	Provider        string `gorm:"not null;default:mpesa" json:"provider"`
	Amount          int64  `gorm:"not null" json:"amount"`

	CheckoutRequestID *string `gorm:"uniqueIndex" json:"checkout_request_id"`
	MerchantRequestID string  `json:"merchant_request_id"`

	Status string `gorm:"not null;default:pending;index" json:"status"`

	// Settlement fields, written only on the transition to completed. The
	// settled amount comes from the provider and may differ from Amount.
	SettledAmount      int64      `json:"settled_amount"`
	MpesaReceiptNumber string     `json:"mpesa_receipt_number"`
	TransactionDate    *time.Time `json:"transaction_date"`

	// Failure sub-reason, written only on the transition to failed.
	ResultCode        *int   `json:"result_code"`
	ResultDescription string `json:"result_description"`
}

// Terminal reports whether the payment has left the pending state.
func (p *Payment) Terminal() bool {
	return p.Status != PaymentStatusPending
}
