package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-svc/middleware"
	"shop-svc/models"

	"go.uber.org/zap"
)

// Notifier is the fire-and-forget sink invoked after a transition has
// committed. Implementations must never block on failure.
type Notifier interface {
	PaymentCompleted(ctx context.Context, p models.Payment, mobile string)
	PaymentUnsuccessful(ctx context.Context, p models.Payment, mobile string)
}

// Outcome is a terminal result reported by either the webhook or the
// reconciliation poller. Amount and CompletedAt are zero when the
// source did not carry them; Mobile is empty on poll-driven outcomes.
type Outcome struct {
	Status      models.PaymentStatus
	Amount      float64
	CompletedAt time.Time
	Mobile      string
}

// Result reports what Apply did. AlreadyFinal means the payment was
// terminal before this call and nothing was written.
type Result struct {
	Payment      models.Payment
	AlreadyFinal bool
	OrderPaid    bool
}

// StateMachine owns every Payment status transition. Webhook and poller
// both funnel through Apply, which is what makes their race safe: the
// transaction takes a row lock, and a payment found terminal is a
// no-op regardless of the incoming outcome.
type StateMachine struct {
	db       *sql.DB
	notifier Notifier
	logger   *zap.Logger
}

func NewStateMachine(db *sql.DB, notifier Notifier, logger *zap.Logger) *StateMachine {
	return &StateMachine{db: db, notifier: notifier, logger: logger}
}

func (sm *StateMachine) Apply(ctx context.Context, transactionID string, outcome Outcome) (*Result, error) {
	if !outcome.Status.Terminal() {
		return nil, ErrNonTerminalApply
	}

	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p models.Payment
	err = tx.QueryRowContext(ctx,
		"SELECT id, transaction_id, order_id, customer_id, amount_paid, status FROM payments WHERE transaction_id = $1 FOR UPDATE",
		transactionID,
	).Scan(&p.ID, &p.TransactionID, &p.OrderID, &p.CustomerID, &p.AmountPaid, &p.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if p.Status.Terminal() {
		// A concurrent webhook or poll already won; observe, don't write.
		sm.logger.Info("Payment already in terminal state, skipping transition",
			zap.String("transaction_id", transactionID),
			zap.String("status", string(p.Status)),
			zap.String("incoming", string(outcome.Status)),
		)
		return &Result{Payment: p, AlreadyFinal: true}, nil
	}

	completedAt := outcome.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	if outcome.Amount > 0 {
		p.AmountPaid = outcome.Amount
		_, err = tx.ExecContext(ctx,
			"UPDATE payments SET status = $1, amount_paid = $2, date_completed = $3 WHERE transaction_id = $4",
			outcome.Status, outcome.Amount, completedAt, transactionID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE payments SET status = $1, date_completed = $2 WHERE transaction_id = $3",
			outcome.Status, completedAt, transactionID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	p.Status = outcome.Status
	p.DateCompleted = &completedAt

	result := &Result{Payment: p}
	if outcome.Status == models.PaymentStatusCompleted {
		res, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = 'paid', updated_at = NOW() WHERE id = $1",
			p.OrderID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update order: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("%w: order %d", ErrOrderMissing, p.OrderID)
		}
		result.OrderPaid = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	middleware.RecordPaymentProcessed(string(p.Status))
	sm.logger.Info("Payment transition committed",
		zap.String("transaction_id", transactionID),
		zap.String("status", string(p.Status)),
		zap.Bool("order_paid", result.OrderPaid),
	)

	// Notification only after commit, so its failure cannot corrupt
	// financial state.
	if sm.notifier != nil {
		switch p.Status {
		case models.PaymentStatusCompleted:
			sm.notifier.PaymentCompleted(ctx, p, outcome.Mobile)
		case models.PaymentStatusUnsuccessful:
			sm.notifier.PaymentUnsuccessful(ctx, p, outcome.Mobile)
		}
	}

	return result, nil
}
