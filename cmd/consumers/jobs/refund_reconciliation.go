package jobs

import (
	"context"
	"log/slog"
	"time"
)

type RefundReconciler interface {
	ReconcileRefunds(ctx context.Context, batch int) (applied, flagged int, err error)
}

// RefundReconciliationJob доводит подтвержденные шлюзом возвраты до APPLIED
// и помечает зависшие INITIATED как UNKNOWN для ручного разбора
type RefundReconciliationJob struct {
	reconciler RefundReconciler
	interval   time.Duration
	batch      int
	done       chan struct{}
}

func NewRefundReconciliationJob(reconciler RefundReconciler, interval time.Duration, batch int) *RefundReconciliationJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RefundReconciliationJob{
		reconciler: reconciler,
		interval:   interval,
		batch:      batch,
		done:       make(chan struct{}),
	}
}

func (j *RefundReconciliationJob) Start(ctx context.Context) {
	slog.Info("Starting refund reconciliation job", "check_interval", j.interval)

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.reconcile(ctx)
		for {
			select {
			case <-ticker.C:
				j.reconcile(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Refund reconciliation job stopped")
				return
			}
		}
	}()
}

func (j *RefundReconciliationJob) Stop() {
	close(j.done)
}

func (j *RefundReconciliationJob) reconcile(ctx context.Context) {
	applied, flagged, err := j.reconciler.ReconcileRefunds(ctx, j.batch)
	if err != nil {
		slog.Error("Refund reconciliation failed", "error", err, "applied", applied, "flagged", flagged)
		return
	}
	if flagged > 0 {
		slog.Warn("Refund requests need manual review", "flagged", flagged)
	}
	if applied > 0 {
		slog.Info("Reconciled refund requests", "applied", applied)
	}
}
