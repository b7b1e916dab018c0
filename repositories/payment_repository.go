package repositories

import (
	"context"
	"errors"
	"time"

	"tenant-portal-server/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// PaymentRepository persists payment attempts. Payments are append/update
// only and never deleted; every transition out of pending goes through a
// single conditional UPDATE so concurrent writers cannot both win.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a new payment row. The caller gets the assigned ID back on
// the model.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).First(&payment, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByCheckoutRequestID looks a payment up by its correlation token.
func (r *PaymentRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// AssignCheckoutRequestID links the provider-issued correlation token to a
// payment. The token is set exactly once: a row that already carries one is
// left untouched and the call reports false.
func (r *PaymentRepository) AssignCheckoutRequestID(ctx context.Context, id uint, checkoutRequestID, merchantRequestID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND checkout_request_id IS NULL", id).
		Updates(map[string]interface{}{
			"checkout_request_id": checkoutRequestID,
			"merchant_request_id": merchantRequestID,
		})
	return res.RowsAffected == 1, res.Error
}

// Settlement carries the provider-confirmed outcome of a successful payment.
type Settlement struct {
	Amount          int64
	ReceiptNumber   string
	TransactionDate *time.Time
}

// MarkCompleted transitions a pending payment to completed together with its
// settlement fields. The WHERE clause on status is the idempotency guard:
// only the first caller out of pending gets RowsAffected == 1, every later
// or concurrent caller sees false and must treat the row as already handled.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id uint, s Settlement) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":               models.PaymentStatusCompleted,
			"settled_amount":       s.Amount,
			"mpesa_receipt_number": s.ReceiptNumber,
			"transaction_date":     s.TransactionDate,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkFailed transitions a pending payment to failed, recording the provider
// result code and description. Same first-writer-wins contract as
// MarkCompleted.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id uint, resultCode int, description string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":             models.PaymentStatusFailed,
			"result_code":        resultCode,
			"result_description": description,
		})
	return res.RowsAffected == 1, res.Error
}

// ExpireStalePending fails every payment still pending from before the
// cutoff. Covers both records the gateway never acknowledged and records
// whose callback never arrived. Returns the number of rows expired.
func (r *PaymentRepository) ExpireStalePending(ctx context.Context, cutoff time.Time, description string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, cutoff).
		Updates(map[string]interface{}{
			"status":             models.PaymentStatusFailed,
			"result_description": description,
		})
	return res.RowsAffected, res.Error
}

// FindCompletedWithoutReceipt lists completed payments that have no receipt
// row yet, oldest first. These are the data-integrity stragglers the sweeper
// repairs.
func (r *PaymentRepository) FindCompletedWithoutReceipt(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusCompleted).
		Where("NOT EXISTS (SELECT 1 FROM receipts WHERE receipts.payment_id = payments.id AND receipts.deleted_at IS NULL)").
		Order("payments.id").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
