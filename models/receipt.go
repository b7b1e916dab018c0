package models

import "gorm.io/gorm"

// Receipt is the immutable proof of a completed payment. Exactly one receipt
// exists per completed payment; the unique index on PaymentID backs the
// idempotency guard in the reconciler, and ReceiptNumber is the generated
// human-facing reference shown on the tenant's receipt.
type Receipt struct {
	gorm.Model
	PaymentID     uint   `gorm:"uniqueIndex;not null" json:"payment_id"`
	TenantID      string `gorm:"not null;index" json:"tenant_id"`
	UnitID        string `gorm:"not null" json:"unit_id"`
	ReceiptNumber string `gorm:"uniqueIndex;not null" json:"receipt_number"`
	Amount        int64  `gorm:"not null" json:"amount"`
}
