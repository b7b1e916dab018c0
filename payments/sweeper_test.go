package payments

import (
	"context"
	"testing"
	"time"

	"tenant-portal-server/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSweeper(env *testEnv, ttl time.Duration) *Sweeper {
	return NewSweeper(env.svc, SweeperConfig{
		Interval:   time.Minute,
		PendingTTL: ttl,
	}, zap.NewNop().Sugar())
}

func backdate(t *testing.T, env *testEnv, id uint, age time.Duration) {
	t.Helper()
	err := env.db.Model(&models.Payment{}).
		Where("id = ?", id).
		Update("created_at", time.Now().Add(-age)).Error
	require.NoError(t, err)
}

func TestSweeperExpiresStalePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, err := env.svc.Initiate(ctx, validInitiateRequest())
	require.NoError(t, err)
	backdate(t, env, stale.PaymentID, 3*time.Hour)

	env.gateway.resp = &GatewayResponse{CheckoutRequestID: "ws_CO_fresh"}
	fresh, err := env.svc.Initiate(ctx, validInitiateRequest())
	require.NoError(t, err)

	newTestSweeper(env, 2*time.Hour).RunOnce(ctx)

	stalePayment, err := env.payments.GetByID(ctx, stale.PaymentID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusFailed, stalePayment.Status)
	require.Equal(t, expiredDescription, stalePayment.ResultDescription)

	freshPayment, err := env.payments.GetByID(ctx, fresh.PaymentID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, freshPayment.Status)
}

func TestSweeperExpiredPaymentIgnoresLateCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Initiate(ctx, validInitiateRequest())
	require.NoError(t, err)
	token := env.gateway.resp.CheckoutRequestID
	backdate(t, env, result.PaymentID, 3*time.Hour)

	newTestSweeper(env, 2*time.Hour).RunOnce(ctx)

	// The provider's callback shows up after expiry; the terminal state
	// holds and the callback is treated as a duplicate.
	outcome, err := env.svc.Reconcile(ctx, successCallback(token))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	payment, err := env.payments.GetByID(ctx, result.PaymentID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusFailed, payment.Status)
}

func TestSweeperBackfillsMissingReceipt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Initiate(ctx, validInitiateRequest())
	require.NoError(t, err)

	// Simulate a completion whose receipt write was lost: complete the
	// record directly, bypassing the generator.
	won, err := env.payments.MarkCompleted(ctx, result.PaymentID, settlementFor(4200, "QRX7TP0I"))
	require.NoError(t, err)
	require.True(t, won)

	n, err := env.receipts.CountByPaymentID(ctx, result.PaymentID)
	require.NoError(t, err)
	require.Zero(t, n)

	sweeper := newTestSweeper(env, 2*time.Hour)
	sweeper.RunOnce(ctx)

	receipt, err := env.receipts.GetByPaymentID(ctx, result.PaymentID)
	require.NoError(t, err)
	require.Equal(t, int64(4200), receipt.Amount)

	// A second sweep does not mint a second receipt.
	sweeper.RunOnce(ctx)
	n, err = env.receipts.CountByPaymentID(ctx, result.PaymentID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
