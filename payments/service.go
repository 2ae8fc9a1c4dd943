package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"shop-svc/gateway"
	"shop-svc/models"

	"go.uber.org/zap"
)

// GatewayClient is the slice of the gateway API the initiation path uses.
type GatewayClient interface {
	CreatePayment(ctx context.Context, network, mobile, payerName, email, currency string, amount float64, transactionID, description string) (*gateway.CreatePaymentResponse, error)
}

// Service runs payment initiation. The Pending payment row is committed
// before the gateway is called: a crash between the two leaves an
// attempt the reconciler can discover and query, whereas the converse
// ordering could charge the customer with no local record. No database
// transaction is ever held open across the network call.
type Service struct {
	db      *sql.DB
	gw      GatewayClient
	logger  *zap.Logger
	nowFunc func() time.Time
}

func NewService(db *sql.DB, gw GatewayClient, logger *zap.Logger) *Service {
	return &Service{db: db, gw: gw, logger: logger, nowFunc: time.Now}
}

type InitiationResult struct {
	TransactionID string
	PaymentID     int
	Amount        float64
}

// NewTransactionID builds the merchant-generated identifier: millisecond
// timestamp plus a 4-digit random suffix. Monotonic-enough and unique in
// practice without a central sequence.
func (s *Service) NewTransactionID() string {
	return fmt.Sprintf("%d%04d", s.nowFunc().UnixMilli(), rand.Intn(10000))
}

func (s *Service) Initiate(ctx context.Context, customerID int, req models.InitiatePaymentRequest) (*InitiationResult, error) {
	mobile, err := gateway.NormalizeMSISDN(req.MomoNumber)
	if err != nil {
		return nil, err
	}

	transactionID := s.NewTransactionID()

	paymentID, quantity, err := s.recordPendingAttempt(ctx, customerID, transactionID, mobile, req)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Payment for %d items", quantity)
	_, gwErr := s.gw.CreatePayment(ctx,
		req.Method,
		mobile,
		"Emergent Payment",
		fmt.Sprintf("customer-%d", customerID),
		"GHS",
		req.Amount,
		transactionID,
		description,
	)
	if gwErr != nil {
		if errors.Is(gwErr, gateway.ErrRejected) {
			// The provider denied the attempt: compensate so no live
			// Pending row survives a rejected initiation.
			s.abandonAttempt(transactionID)
			return nil, gwErr
		}
		// Transport failure: the gateway may have accepted the request
		// before the link died, so the Pending row stays for the
		// reconciler to resolve.
		s.logger.Warn("Gateway unreachable during initiation, leaving attempt pending",
			zap.String("transaction_id", transactionID),
			zap.Error(gwErr),
		)
		return nil, gwErr
	}

	s.logger.Info("Payment initiated",
		zap.String("transaction_id", transactionID),
		zap.Int("order_id", req.OrderID),
		zap.Float64("amount", req.Amount),
	)
	return &InitiationResult{
		TransactionID: transactionID,
		PaymentID:     paymentID,
		Amount:        req.Amount,
	}, nil
}

// recordPendingAttempt validates the order and writes the Pending
// payment row in one committed transaction.
func (s *Service) recordPendingAttempt(ctx context.Context, customerID int, transactionID, mobile string, req models.InitiatePaymentRequest) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var orderID int
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM orders WHERE id = $1 AND customer_id = $2 AND status = 'Pending' FOR UPDATE",
		req.OrderID, customerID,
	).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrOrderNotFound
		}
		return 0, 0, fmt.Errorf("failed to load order: %w", err)
	}

	// An order may carry at most one live payment attempt.
	var pendingID int
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM payments WHERE order_id = $1 AND status = 'Pending'",
		orderID,
	).Scan(&pendingID)
	if err == nil {
		return 0, 0, fmt.Errorf("order %d already has a pending payment attempt", orderID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("failed to check pending attempts: %w", err)
	}

	if req.Address != "" {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET address = $1, updated_at = NOW() WHERE id = $2",
			req.Address, orderID,
		); err != nil {
			return 0, 0, fmt.Errorf("failed to set order address: %w", err)
		}
	}

	var quantity int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(quantity), 0) FROM order_items WHERE order_id = $1",
		orderID,
	).Scan(&quantity)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count order items: %w", err)
	}

	var paymentID int
	err = tx.QueryRowContext(ctx,
		"INSERT INTO payments (transaction_id, order_id, customer_id, quantity, amount_paid, method, status) VALUES ($1, $2, $3, $4, $5, $6, 'Pending') RETURNING id",
		transactionID, orderID, customerID, quantity, req.Amount, req.Method,
	).Scan(&paymentID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit: %w", err)
	}
	return paymentID, quantity, nil
}

// abandonAttempt marks a rejected attempt Unsuccessful in its own
// transaction. Best-effort: on failure the row stays Pending and the
// reconciler will converge it.
func (s *Service) abandonAttempt(transactionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = 'Unsuccessful', date_completed = NOW() WHERE transaction_id = $1 AND status = 'Pending'",
		transactionID,
	)
	if err != nil {
		s.logger.Error("Failed to abandon rejected payment attempt",
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
	}
}

// GetByTransactionID returns the last known canonical state of a
// payment; callers never see raw gateway vocabulary.
func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRowContext(ctx,
		"SELECT id, transaction_id, order_id, customer_id, quantity, amount_paid, method, status, date_paid, date_completed FROM payments WHERE transaction_id = $1",
		transactionID,
	).Scan(&p.ID, &p.TransactionID, &p.OrderID, &p.CustomerID, &p.Quantity, &p.AmountPaid, &p.Method, &p.Status, &p.DatePaid, &p.DateCompleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}
