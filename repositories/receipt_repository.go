package repositories

import (
	"context"
	"errors"

	"tenant-portal-server/models"

	"gorm.io/gorm"
)

// ErrDuplicate is returned when an insert violates a unique index, either on
// receipt_number (regenerate and retry) or on payment_id (receipt already
// exists, nothing to do).
var ErrDuplicate = errors.New("duplicate record")

// ReceiptRepository persists receipts. Receipts are written once and never
// mutated or deleted.
type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	err := r.db.WithContext(ctx).Create(receipt).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *ReceiptRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListByTenant returns a tenant's receipts, newest first.
func (r *ReceiptRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Find(&receipts).Error
	return receipts, err
}

// CountByPaymentID exists for tests and repair jobs asserting the
// one-receipt-per-payment invariant.
func (r *ReceiptRepository) CountByPaymentID(ctx context.Context, paymentID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Receipt{}).Where("payment_id = ?", paymentID).Count(&n).Error
	return n, err
}
