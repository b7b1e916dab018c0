package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenant-portal-server/models"
	"tenant-portal-server/repositories"

	"github.com/google/uuid"
)

// receiptNumberAttempts bounds the regenerate-on-collision loop.
const receiptNumberAttempts = 5

// newReceiptNumber produces a receipt reference like RCP-1704103260000-9F3A21C4.
// The timestamp keeps numbers roughly sortable, the uuid fragment makes
// collisions across processes vanishingly rare; the unique index catches the
// rest.
func newReceiptNumber() string {
	fragment := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("RCP-%d-%s", time.Now().UnixMilli(), fragment)
}

// generateReceipt derives the immutable receipt for a payment that just
// transitioned to completed. The unique index on payment_id makes the
// operation idempotent: if a receipt already exists (sweeper raced the
// reconciler, or a previous attempt half-succeeded) the call is a no-op.
func (s *Service) generateReceipt(ctx context.Context, payment *models.Payment, settlement repositories.Settlement) error {
	for attempt := 0; attempt < receiptNumberAttempts; attempt++ {
		receipt := &models.Receipt{
			PaymentID:     payment.ID,
			TenantID:      payment.TenantID,
			UnitID:        payment.UnitID,
			ReceiptNumber: newReceiptNumber(),
			Amount:        settlement.Amount,
		}
		err := s.receipts.Create(ctx, receipt)
		if err == nil {
			s.log.Infow("receipt generated",
				"payment_id", payment.ID,
				"receipt_number", receipt.ReceiptNumber)
			return nil
		}
		if errors.Is(err, repositories.ErrDuplicate) {
			if _, getErr := s.receipts.GetByPaymentID(ctx, payment.ID); getErr == nil {
				// Receipt already exists for this payment.
				return nil
			}
			// Receipt number collision; generate a fresh one.
			continue
		}
		return err
	}
	return fmt.Errorf("receipt number collisions exhausted %d attempts for payment %d", receiptNumberAttempts, payment.ID)
}
