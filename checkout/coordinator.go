package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-svc/models"

	"go.uber.org/zap"
)

var (
	// ErrCartNotFound also covers a cart that is no longer Active, which
	// is what makes a second checkout on the same cart fail cleanly.
	ErrCartNotFound = errors.New("cart not found or already processed")
	ErrCartEmpty    = errors.New("cart is empty")
)

// Coordinator converts an Active cart into a Pending order. The whole
// conversion is one transaction: order total frozen from the item
// snapshots, items copied to order_items, cart flipped to Processed.
type Coordinator struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCoordinator(db *sql.DB, logger *zap.Logger) *Coordinator {
	return &Coordinator{db: db, logger: logger}
}

func (c *Coordinator) Checkout(ctx context.Context, cartID, customerID int) (*models.Order, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var dbCartID int
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM carts WHERE id = $1 AND customer_id = $2 AND status = 'Active' FOR UPDATE",
		cartID, customerID,
	).Scan(&dbCartID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT product_id, quantity, price FROM cart_items WHERE cart_id = $1 ORDER BY id",
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	var items []models.CartItem
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart items: %w", err)
	}

	if len(items) == 0 {
		return nil, ErrCartEmpty
	}

	// The order total is frozen here; later price changes never
	// retroactively affect placed orders.
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}

	order := &models.Order{
		CustomerID: customerID,
		Total:      total,
		Status:     models.OrderStatusPending,
	}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO orders (customer_id, total, status) VALUES ($1, $2, 'Pending') RETURNING id, created_at",
		customerID, total,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)",
			order.ID, it.ProductID, it.Quantity, it.Price,
		); err != nil {
			return nil, fmt.Errorf("failed to copy order item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET status = 'Processed', updated_at = NOW() WHERE id = $1",
		cartID,
	); err != nil {
		return nil, fmt.Errorf("failed to close cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	c.logger.Info("Checkout completed",
		zap.Int("cart_id", cartID),
		zap.Int("order_id", order.ID),
		zap.Float64("order_total", total),
		zap.Int("items", len(items)),
	)
	return order, nil
}
