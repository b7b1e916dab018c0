package payments

import (
	"context"
	"time"

	"tenant-portal-server/repositories"

	"go.uber.org/zap"
)

const (
	// expiredDescription marks records failed by the sweeper rather than
	// by a provider callback.
	expiredDescription = "expired: no provider confirmation received"

	repairBatchSize = 100
)

// SweeperConfig controls the background maintenance loop.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// PendingTTL is how long a payment may stay pending before it is
	// expired to failed. Covers records the gateway never acknowledged
	// (no correlation token, unreconcilable by construction) and records
	// whose callback never arrived.
	PendingTTL time.Duration
}

// Sweeper is the out-of-band repair loop: it expires stale pending payments
// and backfills receipts for completed payments that lost theirs to a
// persistence failure. Both operations go through the same guarded writes as
// the live path, so running multiple sweepers is safe.
type Sweeper struct {
	svc *Service
	cfg SweeperConfig
	log *zap.SugaredLogger
}

func NewSweeper(svc *Service, cfg SweeperConfig, log *zap.SugaredLogger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 2 * time.Hour
	}
	return &Sweeper{svc: svc, cfg: cfg, log: log}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Exposed for tests and operator tooling.
func (w *Sweeper) RunOnce(ctx context.Context) {
	w.expireStale(ctx)
	w.backfillReceipts(ctx)
}

func (w *Sweeper) expireStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.cfg.PendingTTL)
	n, err := w.svc.payments.ExpireStalePending(ctx, cutoff, expiredDescription)
	if err != nil {
		w.log.Errorw("expire stale pending payments", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("expired stale pending payments", "count", n, "cutoff", cutoff)
	}
}

func (w *Sweeper) backfillReceipts(ctx context.Context) {
	stragglers, err := w.svc.payments.FindCompletedWithoutReceipt(ctx, repairBatchSize)
	if err != nil {
		w.log.Errorw("list completed payments without receipt", "error", err)
		return
	}
	for i := range stragglers {
		payment := &stragglers[i]
		settlement := repositories.Settlement{
			Amount:          payment.SettledAmount,
			ReceiptNumber:   payment.MpesaReceiptNumber,
			TransactionDate: payment.TransactionDate,
		}
		if settlement.Amount == 0 {
			settlement.Amount = payment.Amount
		}
		if err := w.svc.generateReceipt(ctx, payment, settlement); err != nil {
			w.log.Errorw("receipt backfill failed", "payment_id", payment.ID, "error", err)
			continue
		}
		w.log.Infow("receipt backfilled", "payment_id", payment.ID)
	}
}
