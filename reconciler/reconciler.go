// Package reconciler resolves Pending payments whose webhook never
// arrived (or raced and lost) by polling the gateway on a fixed period.
// It is an owned component with injected dependencies and an explicit
// lifecycle; a single cycle can be run synchronously in tests.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"shop-svc/gateway"
	"shop-svc/middleware"
	"shop-svc/models"
	"shop-svc/payments"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// StatusQuerier is the slice of the gateway API the poller uses.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, transactionID string) (models.PaymentStatus, *gateway.InvoiceStatusResponse, error)
}

// Applier is the payment state machine transition entry point.
type Applier interface {
	Apply(ctx context.Context, transactionID string, outcome payments.Outcome) (*payments.Result, error)
}

type Reconciler struct {
	db            *sql.DB
	gw            StatusQuerier
	machine       Applier
	interval      time.Duration
	pendingExpiry time.Duration
	logger        *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(db *sql.DB, gw StatusQuerier, machine Applier, interval, pendingExpiry time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:            db,
		gw:            gw,
		machine:       machine,
		interval:      interval,
		pendingExpiry: pendingExpiry,
		logger:        logger,
	}
}

// Start launches the periodic loop. Stop must be called to release it.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.RunCycle(ctx); err != nil {
					r.logger.Error("Reconciliation cycle failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("Reconciler stopped")
}

type pendingPayment struct {
	transactionID string
	datePaid      time.Time
}

// RunCycle polls the gateway once for every Pending unflagged payment.
// Each payment is independent: a failure is logged and the cycle moves
// on. Payments pending past the expiry threshold are flagged for manual
// review and excluded from future cycles; they are never failed on the
// gateway's silence alone.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "ReconcileCycle")
	defer span.End()

	middleware.RecordReconcileCycle()

	rows, err := r.db.QueryContext(ctx,
		"SELECT transaction_id, date_paid FROM payments WHERE status = 'Pending' AND flagged_at IS NULL ORDER BY date_paid",
	)
	if err != nil {
		return fmt.Errorf("failed to list pending payments: %w", err)
	}

	var pending []pendingPayment
	for rows.Next() {
		var p pendingPayment
		if err := rows.Scan(&p.transactionID, &p.datePaid); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan pending payment: %w", err)
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate pending payments: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}
	r.logger.Info("Reconciling pending payments", zap.Int("count", len(pending)))

	resolved := 0
	for _, p := range pending {
		if r.pendingExpiry > 0 && time.Since(p.datePaid) > r.pendingExpiry {
			r.flag(ctx, p)
			continue
		}

		status, _, err := r.gw.QueryStatus(ctx, p.transactionID)
		if err != nil {
			r.logger.Warn("Failed to query payment status",
				zap.String("transaction_id", p.transactionID),
				zap.Error(err),
			)
			continue
		}
		if !status.Terminal() {
			continue
		}

		if _, err := r.machine.Apply(ctx, p.transactionID, payments.Outcome{Status: status}); err != nil {
			r.logger.Error("Failed to apply reconciled outcome",
				zap.String("transaction_id", p.transactionID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
			continue
		}
		resolved++
	}

	r.logger.Info("Reconciliation cycle completed",
		zap.Int("checked", len(pending)),
		zap.Int("resolved", resolved),
	)
	return nil
}

func (r *Reconciler) flag(ctx context.Context, p pendingPayment) {
	_, err := r.db.ExecContext(ctx,
		"UPDATE payments SET flagged_at = NOW() WHERE transaction_id = $1 AND flagged_at IS NULL",
		p.transactionID,
	)
	if err != nil {
		r.logger.Error("Failed to flag stale payment",
			zap.String("transaction_id", p.transactionID),
			zap.Error(err),
		)
		return
	}
	middleware.RecordPaymentFlagged()
	r.logger.Warn("Pending payment exceeded expiry, flagged for manual review",
		zap.String("transaction_id", p.transactionID),
		zap.Time("date_paid", p.datePaid),
	)
}
